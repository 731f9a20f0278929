package params

import (
	"fmt"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
)

// ToFHandler owns the parameters of a time-of-flight node.
type ToFHandler struct {
	*Handler
}

func NewToFHandler(name string) *ToFHandler {
	return &ToFHandler{Handler: NewHandler(name)}
}

// DeclareParams declares the ToF options, selects the camera socket and
// writes the ToF block's initial configuration.
func (h *ToFHandler) DeclareParams(src Source, cam, tof *pipeline.Node) error {
	camCfg, tofCfg := cam.Camera(), tof.ToF()
	if camCfg == nil || tofCfg == nil {
		return fmt.Errorf("tof params: want camera and tof nodes, got %s and %s", cam.Kind(), tof.Kind())
	}

	d := h.Declarer(src)
	d.Bool("i_publish_topic", true)
	sock := d.Int("i_board_socket_id", 0, Range(0, 4))
	d.Int("i_width", 640, Range(1, 4096))
	d.Int("i_height", 480, Range(1, 4096))
	d.Int("i_max_q_size", 30, Range(1, 1024))
	shuffle := d.Bool("i_avg_phase_shuffle", false)
	amp := d.Float("i_minimum_amplitude", 3.0, Range(0, 1e6))
	fmod := d.Enum("i_freq_mod_used", "F_MOD_MAX", FreqMods)
	if err := d.Err(); err != nil {
		return err
	}

	camCfg.BoardSocket = pipeline.Socket(sock)
	tofCfg.AvgPhaseShuffle = shuffle
	tofCfg.MinimumAmplitude = amp
	tofCfg.FreqModUsed = pipeline.FreqMod(fmod)
	return nil
}

// SetRuntimeParams records the batch; the ToF block has no live controls
// so the returned control is always empty.
func (h *ToFHandler) SetRuntimeParams(batch []Parameter) (device.Control, error) {
	_, err := h.Update(batch)
	return device.Control{}, err
}
