package media

import "github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"

// DefaultRTSPURI is the address a companion server exposes its stream on
const DefaultRTSPURI = "rtsp://127.0.0.1:8554/test"

// RTSPDescriptor presents a local asset as served by a companion RTSP server
type RTSPDescriptor struct {
	models.MediaDescriptor
}

// NewRTSP wraps base, leaving it untouched
func NewRTSP(base models.MediaDescriptor) *RTSPDescriptor {
	return &RTSPDescriptor{MediaDescriptor: base}
}

// URI implements models.MediaDescriptor
func (r *RTSPDescriptor) URI() string { return DefaultRTSPURI }

// Protocol implements models.MediaDescriptor
func (r *RTSPDescriptor) Protocol() models.Protocol { return models.ProtocolRTSP }

// Prerolls implements models.MediaDescriptor
func (r *RTSPDescriptor) Prerolls() bool { return false }

// NeedsClockSync implements models.MediaDescriptor
func (r *RTSPDescriptor) NeedsClockSync() bool { return false }
