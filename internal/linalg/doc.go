// Package linalg holds the small-vector and small-matrix helpers shared by
// the estimator and the planner, together with the numeric error taxonomy
// both of them report.
//
// Dependency rule: linalg depends only on gonum. It must never import the
// estimator, planner or replay packages.
package linalg
