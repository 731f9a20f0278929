// Package msgs defines the outward message formats: images and the camera
// geometry that accompanies them.
package msgs

import "time"

// Image encodings.
const (
	EncodingMono8  = "mono8"
	EncodingMono16 = "mono16"
	Encoding16UC1  = "16UC1"
)

// Header stamps a message with its frame of reference.
type Header struct {
	FrameID string    `json:"frame_id"`
	Stamp   time.Time `json:"stamp"`
	Seq     int64     `json:"seq"`
}

// Image is an uncompressed image. Step is the row length in bytes.
type Image struct {
	Header      Header `json:"header"`
	Height      int    `json:"height"`
	Width       int    `json:"width"`
	Encoding    string `json:"encoding"`
	IsBigEndian bool   `json:"is_bigendian"`
	Step        int    `json:"step"`
	Data        []byte `json:"data"`
}

// CameraInfo is the calibration of the camera that produced an image. K is
// the 3x3 intrinsic matrix, R the rectification rotation and P the 3x4
// projection, all row-major. P[3] carries the stereo baseline term.
type CameraInfo struct {
	Header          Header      `json:"header"`
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	DistortionModel string      `json:"distortion_model"`
	D               []float64   `json:"d"`
	K               [9]float64  `json:"k"`
	R               [9]float64  `json:"r"`
	P               [12]float64 `json:"p"`
}

// Clone returns a deep copy.
func (c *CameraInfo) Clone() *CameraInfo {
	out := *c
	out.D = append([]float64(nil), c.D...)
	return &out
}
