// Package simlidar holds the types shared by every stage of the simulated
// LiDAR sampling engine.
//
// Responsibilities: ray commands and hit results, emitter poses and the
// local/world transforms built on them, the scene intersection and pose
// source contracts, and the ops/diag/trace logging streams.
// Key types: Pose, RayCommand, HitResult, Intersector, PoseSource.
//
// Dependency rule: this package depends on no other simlidar package.
// Sub-packages (pattern, jobs, scene, engine, readings, capture) may depend
// on it.
package simlidar
