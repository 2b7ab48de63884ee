package rdk

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// NanosPerSec is the number of nanoseconds in one second.
const NanosPerSec = int64(1_000_000_000)

// Stamp is a ROS-style timestamp split into whole seconds and nanoseconds.
type Stamp struct {
	Sec  int64 `json:"sec"`
	Nsec int64 `json:"nsec"`
}

// Nanos returns the stamp as int64 nanoseconds since the unix epoch (or, for
// durations, total nanoseconds).
func (s Stamp) Nanos() int64 {
	return s.Sec*NanosPerSec + s.Nsec
}

// Header is the standard message header carried by most sensor messages.
type Header struct {
	Stamp   Stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// JointState reports the observed position of each named joint.
type JointState struct {
	Header   Header    `json:"header"`
	Name     []string  `json:"name"`
	Position []float64 `json:"position"`
	Velocity []float64 `json:"velocity,omitempty"`
	Effort   []float64 `json:"effort,omitempty"`
}

// TrajectoryPoint is a single target within a commanded trajectory. The
// TimeFromStart stamp is a duration relative to the trajectory header stamp.
type TrajectoryPoint struct {
	Positions     []float64 `json:"positions"`
	Velocities    []float64 `json:"velocities,omitempty"`
	TimeFromStart Stamp     `json:"time_from_start"`
}

// JointTrajectory is a commanded trajectory for a set of named joints.
type JointTrajectory struct {
	Header     Header            `json:"header"`
	JointNames []string          `json:"joint_names"`
	Points     []TrajectoryPoint `json:"points"`
}

// CompressedImage is a camera frame in a compressed encoding ("jpeg",
// "png"). Data is raw compressed bytes (base64 in the JSON encoding).
type CompressedImage struct {
	Header Header `json:"header"`
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// CameraInfo reports the dimensions a camera is publishing at.
type CameraInfo struct {
	Header Header `json:"header"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// NavSatFix is a GPS fix.
type NavSatFix struct {
	Header    Header  `json:"header"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Known message schema names. Sources decode message payloads into the Go
// types above based on these.
const (
	SchemaJointState      = "sensor_msgs/JointState"
	SchemaJointTrajectory = "trajectory_msgs/JointTrajectory"
	SchemaCompressedImage = "sensor_msgs/CompressedImage"
	SchemaCameraInfo      = "sensor_msgs/CameraInfo"
	SchemaNavSatFix       = "sensor_msgs/NavSatFix"
)

// Message is one recorded message from a robot log: which topic it was
// published on, when the recorder saw it, and the decoded body (one of the
// message types in this package).
type Message struct {
	Topic   string
	LogTime int64 // nanoseconds since the unix epoch
	Body    interface{}
}

// DecodeBody decodes a JSON-encoded message payload into the Go type named
// by schema. Unknown schemas are decoded to map[string]interface{} so that
// sources can still pass them through for callers which want them.
func DecodeBody(schema string, data []byte) (interface{}, error) {
	var body interface{}
	switch schema {
	case SchemaJointState:
		body = &JointState{}
	case SchemaJointTrajectory:
		body = &JointTrajectory{}
	case SchemaCompressedImage:
		body = &CompressedImage{}
	case SchemaCameraInfo:
		body = &CameraInfo{}
	case SchemaNavSatFix:
		body = &NavSatFix{}
	default:
		body = &map[string]interface{}{}
	}
	if err := json.Unmarshal(data, body); err != nil {
		return nil, errors.Wrapf(err, "decoding %s payload", schema)
	}
	if m, ok := body.(*map[string]interface{}); ok {
		return *m, nil
	}
	return body, nil
}

// SchemaFor returns the schema name for a decoded message body, or empty
// string for bodies which are not one of the known message types.
func SchemaFor(body interface{}) string {
	switch body.(type) {
	case *JointState, JointState:
		return SchemaJointState
	case *JointTrajectory, JointTrajectory:
		return SchemaJointTrajectory
	case *CompressedImage, CompressedImage:
		return SchemaCompressedImage
	case *CameraInfo, CameraInfo:
		return SchemaCameraInfo
	case *NavSatFix, NavSatFix:
		return SchemaNavSatFix
	}
	return ""
}
