// Package estimator owns the recursive state estimator: a constant-velocity
// Kalman filter over the 2-D kinematic state [x, y, vx, vy].
//
// The filter observes the full state directly (H = I). Measurements carry
// both position and velocity; there is no partial-position sensor model.
//
// Key types: Estimator, Config, DebugRecorder.
//
// Dependency rule: estimator may depend on linalg, config and monitoring,
// never on planner or replay.
package estimator
