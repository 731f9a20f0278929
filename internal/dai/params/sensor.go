package params

import (
	"fmt"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
)

// SensorHandler owns the parameters of one camera sensor.
type SensorHandler struct {
	*Handler
}

func NewSensorHandler(name string) *SensorHandler {
	return &SensorHandler{Handler: NewHandler(name)}
}

// DeclareParams declares the sensor options and configures the Camera
// descriptor. socket is the default connector; publish the default for
// i_publish_topic.
func (h *SensorHandler) DeclareParams(src Source, cam *pipeline.Node, socket pipeline.Socket, publish bool) error {
	cfg := cam.Camera()
	if cfg == nil {
		return fmt.Errorf("sensor params: node %q is a %s", cam.Name(), cam.Kind())
	}

	d := h.Declarer(src)
	d.Bool("i_publish_topic", publish)
	sock := d.Int("i_board_socket_id", int(socket), Range(0, 4))
	res := pipeline.Resolution(d.Enum("i_resolution", "720P", Resolutions))
	fps := d.Float("i_fps", 30, Range(1, 120))
	w, hgt := res.Size()
	d.Int("i_width", w, Range(1, 4096))
	d.Int("i_height", hgt, Range(1, 4096))
	d.Int("i_max_q_size", 30, Range(1, 1024))
	d.Bool("i_low_bandwidth", false)
	d.Int("i_low_bandwidth_quality", 50, Range(1, 100))
	d.Bool("r_set_man_exposure", false, Runtime())
	d.Int("r_exposure", 1000, Range(1, 33000), Runtime(), Describe("manual exposure time, microseconds"))
	d.Int("r_iso", 800, Range(100, 1600), Runtime())
	if err := d.Err(); err != nil {
		return err
	}

	cfg.BoardSocket = pipeline.Socket(sock)
	cfg.Resolution = res
	cfg.FPS = fps
	return nil
}

// SetRuntimeParams returns an exposure control when the exposure mode or,
// in manual mode, the exposure values changed.
func (h *SensorHandler) SetRuntimeParams(batch []Parameter) (device.Control, error) {
	changed, err := h.Update(batch)
	snap := h.Snapshot()
	manual := snap.Bool("r_set_man_exposure")

	touched := false
	for _, p := range changed {
		switch p.Name {
		case "r_set_man_exposure":
			touched = true
		case "r_exposure", "r_iso":
			touched = touched || manual
		}
	}

	var ctrl device.Control
	if !touched {
		return ctrl, err
	}
	if manual {
		ctrl.Set(device.CtrlExposureTime, snap.Int("r_exposure"))
		ctrl.Set(device.CtrlSensitivityISO, snap.Int("r_iso"))
	} else {
		ctrl.Set(device.CtrlAutoExposure, true)
	}
	return ctrl, err
}
