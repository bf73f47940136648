// Package pose defines the 6-DOF pose used by particles and estimates,
// conversions to and from 4x4 homogeneous transforms, and the pose
// aggregator that reduces a particle cloud to a single estimate.
//
// Angles are radians. Rotations use the Z-Y-X (yaw, pitch, roll)
// convention: R = Rz(yaw) · Ry(pitch) · Rx(roll).
package pose
