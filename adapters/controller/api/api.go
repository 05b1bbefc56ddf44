package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/field-4d/cloud-sub000/adapters/controller"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// BufferStats is the read-only view the ops API has into the ingestion
// buffer.
type BufferStats interface {
	PendingCount() int
	LastFlushCount() int
}

// Sweeper triggers an on-demand dead-man sweep.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

type Api struct {
	Port    int
	logger  zerolog.Logger
	stats   BufferStats
	sweeper Sweeper
}

type Info struct {
	CompileDate    string `json:"compile_date"`
	Version        string `json:"version"`
	LogLevel       string `json:"log_level"`
	LogLevelString string `json:"log_level_string"`
	Date           string `json:"date"`
	MqttConnection string `json:"mqtt_connection"`
	MqttTopic      string `json:"mqtt_topic"`
}

type BufferInfo struct {
	Pending   int `json:"pending_records"`
	LastFlush int `json:"last_flush_records"`
}

var info Info

func NewApi(conf controller.ControllerConfig, stats BufferStats, sweeper Sweeper) *Api {
	info.CompileDate = conf.CompileDate
	info.Version = conf.Version
	info.LogLevel = fmt.Sprintf("%d", conf.LogLevel)
	info.LogLevelString = conf.LogLevelString
	info.MqttConnection = conf.MqttConnection
	info.MqttTopic = conf.MqttTopic

	return &Api{
		Port:    conf.Port,
		stats:   stats,
		sweeper: sweeper,
		logger: zerolog.New(
			zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339}).
			Level(zerolog.Level(conf.LogLevel+1)).
			With().
			Timestamp().
			Int("pid", os.Getpid()).
			Logger(),
	}
}

func (a *Api) Start(ctx context.Context, wg *sync.WaitGroup) {
	go a.start(ctx, wg)
}

func (a *Api) start(ctx context.Context, wg *sync.WaitGroup) {
	var (
		router *gin.Engine
		v1     *gin.RouterGroup
		server *http.Server
		err    error
	)

	wg.Add(1)

	router = gin.Default()

	server = &http.Server{
		Addr:    ":" + fmt.Sprint(a.Port),
		Handler: router,
	}

	v1 = router.Group("/api/v1")
	{
		v1.GET("/info", a.Info)
		v1.GET("/buffer", a.Buffer)
		v1.POST("/deadman/sweep", a.DeadManSweep)
	}

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/readyz", func(c *gin.Context) { c.Status(http.StatusOK) })

	go func() {
		if err = server.ListenAndServe(); err != nil {
			if errors.Is(http.ErrServerClosed, err) {
				a.logger.Warn().Err(err).Msg("Server closed under request")
			} else {
				a.logger.Err(err).Msg("Server closed unexpect")
			}
		}
	}()

	a.logger.Info().Msg("Waiting API server ready")
	<-ctx.Done()
	switch ctx.Err() {
	case context.Canceled:
		a.logger.Warn().Msg("API server shutting down")
	case context.DeadlineExceeded:
		a.logger.Warn().Msg("API server shutting down on Context deadline exceeded")
	default:
		a.logger.Warn().Msg("API server shutting down unknown reason")
	}
	if err = server.Shutdown(context.Background()); err != nil {
		a.logger.Err(err).Msg("Server close")
	}
	wg.Done()
}

// Info provides server info.
func (a *Api) Info(c *gin.Context) {
	info.Date = time.Now().UTC().Format(time.RFC3339)
	c.JSON(http.StatusOK, info)
}

// Buffer reports ingestion buffer occupancy and the size of the last flush.
func (a *Api) Buffer(c *gin.Context) {
	c.JSON(http.StatusOK, BufferInfo{
		Pending:   a.stats.PendingCount(),
		LastFlush: a.stats.LastFlushCount(),
	})
}

// DeadManSweep runs the silent-sensor sweep on operator demand.
func (a *Api) DeadManSweep(c *gin.Context) {
	if err := a.sweeper.Sweep(c.Request.Context()); err != nil {
		a.logger.Error().Err(err).Msg("dead-man sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}
