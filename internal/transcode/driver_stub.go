//go:build !gstreamer

package transcode

import (
	"errors"
	"io"
)

const driverAvailable = false

func openStream(path string, bitrateKbit int) (io.ReadCloser, error) {
	return nil, errors.New("transcode: gstreamer build tag not enabled")
}
