package tts

import (
	"fmt"
	"os"
	"runtime"
)

type EngineType string

const (
	EngineTypeMock          EngineType = "mock"
	EngineTypeESpeak        EngineType = "espeak"
	EngineTypeGoogleClassic EngineType = "googleclassic"
	EngineTypeSay           EngineType = "say"
	EngineTypeSAPI          EngineType = "sapi"
	EngineTypeAuto          EngineType = "auto" // Automatically choose best for platform
)

func (e EngineType) String() string {
	return string(e)
}

// NewEngine creates a new synthesizer based on the provided config
func NewEngine(config Config) (Synthesizer, error) {
	if config.Type == "" || config.Type == EngineTypeAuto.String() {
		config.Type = getBestEngineForPlatform().String()
	}
	if config.Speed <= 0 {
		config.Speed = 1.0
	}
	if config.Pitch <= 0 {
		config.Pitch = 1.0
	}
	if config.Volume <= 0 {
		config.Volume = 1.0
	}

	switch config.Type {
	case EngineTypeMock.String():
		return NewMockTTSEngine(config), nil

	case EngineTypeGoogleClassic.String():
		return newGoogleClassicTTSEngine(config)

	case EngineTypeESpeak.String():
		return newESpeakEngine(config)

	case EngineTypeSay.String():
		return newSayEngine(config)

	case EngineTypeSAPI.String():
		return newSAPIEngine(config)

	default:
		return nil, fmt.Errorf("unsupported TTS engine type: %s", config.Type)
	}
}

// getBestEngineForPlatform returns the recommended engine for the current platform
func getBestEngineForPlatform() EngineType {
	if hasGoogleCredentials() {
		return EngineTypeGoogleClassic
	}
	if _, err := findESpeakExecutable(); err != nil {
		switch runtime.GOOS {
		case "darwin":
			return EngineTypeSay
		case "windows":
			return EngineTypeSAPI
		}
	}
	return EngineTypeESpeak
}

// GetAvailableEngines returns engines available on the current platform
func GetAvailableEngines() []EngineType {
	engines := []EngineType{EngineTypeMock}

	if _, err := findESpeakExecutable(); err == nil {
		engines = append(engines, EngineTypeESpeak)
	}

	if sayAvailable() {
		engines = append(engines, EngineTypeSay)
	}

	if sapiAvailable() {
		engines = append(engines, EngineTypeSAPI)
	}

	if hasGoogleCredentials() {
		engines = append(engines, EngineTypeGoogleClassic)
	}

	return engines
}

// hasGoogleCredentials checks if Google Cloud credentials are available
func hasGoogleCredentials() bool {
	// Check for service account key file
	_, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS")
	return ok
}
