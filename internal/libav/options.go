package libav

import (
	"strconv"

	"github.com/JaylenLuc/datamoshing/internal/config"
)

// EncoderOptions translates the encoder configuration into libavcodec
// private options. GOP size and B-frame count are not included; they are
// set on the codec context directly.
func EncoderOptions(e config.Encoder) map[string]string {
	opts := map[string]string{}
	if e.Preset != "" {
		opts["preset"] = e.Preset
	}
	opts["crf"] = strconv.Itoa(e.CRF)
	if !e.SceneChangeDetection {
		opts["sc_threshold"] = "0"
	}
	if e.Codec == "libx264" {
		// libx264 also reads keyint and scenecut from x264-params.
		params := "keyint=" + strconv.Itoa(e.KeyframeInterval) + ":bframes=" + strconv.Itoa(e.BFrames)
		if !e.SceneChangeDetection {
			params += ":scenecut=0"
		}
		opts["x264-params"] = params
	}
	return opts
}
