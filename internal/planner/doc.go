// Package planner owns action selection and online learning: an
// epsilon-greedy policy over a two-layer tanh value network, trained from a
// replay buffer with per-sample temporal-difference updates.
//
// Gradients are written out in closed form for the fixed topology
//
//	z1 = W1·s + b1,  h1 = tanh(z1),  q = W2·h1 + b2
//
// and applied in place one sampled transition at a time, so later samples in
// a TrainStep see the weights left by earlier ones.
//
// Key types: Planner, Config, Weights.
package planner
