// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Sample sources accepted by SAMPLE_SOURCE.
const (
	SourceIMU    = "imu"
	SourceSerial = "serial"
	SourceMQTT   = "mqtt"
	SourceMock   = "mock"
)

// SSD1306Addr is the only display address the ssd1306 driver supports.
const SSD1306Addr = 0x3C

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDProducer string
	MQTTClientIDWeb      string
	MQTTClientIDConsole  string
	MQTTClientIDDisplay  string

	// Topics
	TopicIMU         string // raw accelerometer JSON (input for SAMPLE_SOURCE=mqtt)
	TopicStep        string
	TopicSensitivity string

	// Sample source: "imu", "serial", "mqtt" or "mock"
	SampleSource string

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange     byte
	IMUSampleInterval int // milliseconds

	// Serial accelerometer
	SerialPort     string
	SerialBaudRate int

	// Step detector
	StepSensitivity        float64
	StepResetOnSensitivity bool

	// Persistence
	StepLogDir        string
	StepLogFlushEvery int
	SampleLogEnabled  bool
	StepDBPath        string // empty disables the SQLite store

	// Web Server
	WebServerPort int
	WebTLSCert    string
	WebTLSKey     string

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: set once by InitGlobal, read through Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional value set.
func Default() *Config {
	return &Config{
		MQTTClientIDProducer: "step-producer",
		MQTTClientIDWeb:      "step-web",
		MQTTClientIDConsole:  "step-console",
		MQTTClientIDDisplay:  "step-display",

		TopicIMU:         "inertial/imu/left",
		TopicStep:        "pedometer/step",
		TopicSensitivity: "pedometer/sensitivity",

		SampleSource: SourceIMU,

		IMUSPIDevice:      "/dev/spidev0.0",
		IMUCSPin:          "8",
		IMUSampleInterval: 20,

		SerialPort:     "/dev/ttyUSB0",
		SerialBaudRate: 115200,

		StepSensitivity: 10,

		StepLogDir:        "./steps",
		StepLogFlushEvery: 10,
		StepDBPath:        "./steps/steps.db",

		WebServerPort: 8080,

		DisplayI2CAddr:        SSD1306Addr,
		DisplayUpdateInterval: 250,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Default. Empty lines and lines
// starting with '#' are ignored.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_IMU":
		c.TopicIMU = value
	case "TOPIC_STEP":
		c.TopicStep = value
	case "TOPIC_SENSITIVITY":
		c.TopicSensitivity = value

	case "SAMPLE_SOURCE":
		switch value {
		case SourceIMU, SourceSerial, SourceMQTT, SourceMock:
			c.SampleSource = value
		default:
			return fmt.Errorf("SAMPLE_SOURCE must be one of imu, serial, mqtt, mock, got %q", value)
		}

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_SAMPLE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_SAMPLE_INTERVAL %q: %w", value, err)
		}
		c.IMUSampleInterval = interval

	// Serial accelerometer
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = rate

	// Step detector
	case "STEP_SENSITIVITY":
		s, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid STEP_SENSITIVITY %q: %w", value, err)
		}
		c.StepSensitivity = s
	case "STEP_RESET_ON_SENSITIVITY":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid STEP_RESET_ON_SENSITIVITY %q: %w", value, err)
		}
		c.StepResetOnSensitivity = b

	// Persistence
	case "STEP_LOG_DIR":
		c.StepLogDir = value
	case "STEP_LOG_FLUSH_EVERY":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid STEP_LOG_FLUSH_EVERY %q: %w", value, err)
		}
		if n < 1 {
			return fmt.Errorf("STEP_LOG_FLUSH_EVERY must be at least 1, got %d", n)
		}
		c.StepLogFlushEvery = n
	case "SAMPLE_LOG_ENABLED":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_LOG_ENABLED %q: %w", value, err)
		}
		c.SampleLogEnabled = b
	case "STEP_DB_PATH":
		c.StepDBPath = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port
	case "WEB_TLS_CERT":
		c.WebTLSCert = value
	case "WEB_TLS_KEY":
		c.WebTLSKey = value

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.IMUSampleInterval <= 0 {
		return fmt.Errorf("IMU_SAMPLE_INTERVAL must be positive")
	}
	if c.SampleSource == SourceSerial && c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required for SAMPLE_SOURCE=serial")
	}
	if c.SampleSource == SourceIMU && c.IMUSPIDevice == "" {
		return fmt.Errorf("IMU_SPI_DEVICE is required for SAMPLE_SOURCE=imu")
	}
	if (c.WebTLSCert == "") != (c.WebTLSKey == "") {
		return fmt.Errorf("WEB_TLS_CERT and WEB_TLS_KEY must be set together")
	}
	// The ssd1306 driver always talks to 0x3C.
	if c.DisplayI2CAddr != SSD1306Addr {
		return fmt.Errorf("DISPLAY_I2C_ADDR must be 0x%02X, got 0x%02X", SSD1306Addr, c.DisplayI2CAddr)
	}
	return nil
}

// UseTLS reports whether the web server should serve HTTPS.
func (c *Config) UseTLS() bool {
	return c.WebTLSCert != "" && c.WebTLSKey != ""
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
