package media

import (
	"context"

	"callcore/internal/domain"
	"callcore/pkg/errors"
)

// MockDevices is a device stack for development and tests. It hands out
// synthetic tracks and can simulate refusal or missing hardware.
type MockDevices struct {
	// DenyPermission makes every acquisition fail as refused
	DenyPermission bool
	// MissingCamera fails video acquisition only
	MissingCamera bool
	// MissingMicrophone fails all acquisition (audio is always required)
	MissingMicrophone bool

	// Acquired collects every stream handed out, for leak assertions
	Acquired []*Stream
}

// AcquireStream implements Devices
func (d *MockDevices) AcquireStream(_ context.Context, kind domain.MediaKind) (*Stream, error) {
	if d.DenyPermission {
		return nil, errors.PermissionDeniedError(deviceName(kind))
	}
	if d.MissingMicrophone {
		return nil, errors.DeviceUnavailableError("microphone")
	}
	if kind == domain.MediaVideo && d.MissingCamera {
		return nil, errors.DeviceUnavailableError("camera")
	}

	tracks := []*Track{NewTrack(TrackAudio)}
	if kind == domain.MediaVideo {
		tracks = append(tracks, NewTrack(TrackVideo))
	}

	stream := NewStream(tracks...)
	d.Acquired = append(d.Acquired, stream)
	return stream, nil
}

func deviceName(kind domain.MediaKind) string {
	if kind == domain.MediaVideo {
		return "camera"
	}
	return "microphone"
}
