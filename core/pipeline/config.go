package pipeline

import "time"

// Config holds the pipeline tuning knobs. Designed for environment-based
// loading with the core/config package.
type Config struct {
	// Worker counts for the two bounded stages.
	SendWorkers    int `env:"FARMBUS_SEND_WORKERS" envDefault:"1"`
	ReceiveWorkers int `env:"FARMBUS_RECEIVE_WORKERS" envDefault:"1"`

	// Buffer sizes for the stage queues.
	SendBuffer    int `env:"FARMBUS_SEND_BUFFER" envDefault:"64"`
	ReceiveBuffer int `env:"FARMBUS_RECEIVE_BUFFER" envDefault:"64"`

	// Receive polling parameters, capped by the queue service
	// (wait <= 20s, batch <= 10).
	ReceiveWait      time.Duration `env:"FARMBUS_RECEIVE_WAIT" envDefault:"20s"`
	ReceiveBatchSize int           `env:"FARMBUS_RECEIVE_BATCH" envDefault:"10"`

	// ShutdownTimeout bounds how long Stop waits for in-flight stage work.
	ShutdownTimeout time.Duration `env:"FARMBUS_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		SendWorkers:      1,
		ReceiveWorkers:   1,
		SendBuffer:       64,
		ReceiveBuffer:    64,
		ReceiveWait:      20 * time.Second,
		ReceiveBatchSize: 10,
		ShutdownTimeout:  30 * time.Second,
	}
}
