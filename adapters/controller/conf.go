package controller

type ControllerConfig struct {
	Port           int `yaml:"Port"`
	LogLevel       int `yaml:"LogLevel"`
	CompileDate    string
	Version        string
	LogLevelString string
	MqttConnection string
	MqttTopic      string
}
