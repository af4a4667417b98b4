//go:build whispercpp

package main

import (
	"github.com/MrWong99/roverlink/internal/config"
	"github.com/MrWong99/roverlink/pkg/provider/stt"
	"github.com/MrWong99/roverlink/pkg/provider/stt/whisper"
)

func init() {
	buildTagProviders = append(buildTagProviders, func(reg *config.Registry) {
		reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
			modelPath := e.Model
			if modelPath == "" {
				modelPath = e.Option("model_path")
			}
			var opts []whisper.NativeOption
			if e.Language != "" {
				opts = append(opts, whisper.WithNativeLanguage(e.Language))
			}
			return whisper.NewNative(modelPath, opts...)
		})
	})
}
