package visualiser

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/auv.localiser/internal/pose"
	"github.com/banshee-data/auv.localiser/internal/publish"
)

// Message kinds carried in the "kind" field.
const (
	KindEstimate  = "estimate"
	KindParticles = "particles"
)

func poseList(p pose.Pose) []interface{} {
	v := p.Vector()
	out := make([]interface{}, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

// EstimateMessage encodes an estimate for the stream.
func EstimateMessage(e publish.Estimate) (*structpb.Struct, error) {
	variance := make([]interface{}, len(e.Variance))
	for i, v := range e.Variance {
		variance[i] = v
	}
	return structpb.NewStruct(map[string]interface{}{
		"kind":      KindEstimate,
		"stamp":     e.Stamp.UTC().Format(time.RFC3339Nano),
		"frame_id":  e.FrameID,
		"pose":      poseList(e.Pose),
		"variance":  variance,
		"n_eff":     e.NEff,
		"resampled": e.Resampled,
		"particles": float64(e.Particles),
	})
}

// ParticlesMessage encodes a particle cloud for the stream. Each pose is a
// list of x, y, z, roll, pitch, yaw.
func ParticlesMessage(stamp time.Time, frameID string, poses []pose.Pose) (*structpb.Struct, error) {
	list := make([]interface{}, len(poses))
	for i, p := range poses {
		list[i] = poseList(p)
	}
	return structpb.NewStruct(map[string]interface{}{
		"kind":     KindParticles,
		"stamp":    stamp.UTC().Format(time.RFC3339Nano),
		"frame_id": frameID,
		"poses":    list,
	})
}

// PoseFromList decodes a pose list produced by the encoders above.
func PoseFromList(v *structpb.ListValue) pose.Pose {
	vals := v.GetValues()
	f := make([]float64, len(vals))
	for i, x := range vals {
		f[i] = x.GetNumberValue()
	}
	return pose.FromVector(f)
}
