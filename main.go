package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/field-4d/cloud-sub000/adapters/controller"
	papi "github.com/field-4d/cloud-sub000/adapters/controller/api"
	"github.com/field-4d/cloud-sub000/adapters/controller/mqtt"
	"github.com/field-4d/cloud-sub000/adapters/gateway/mail"
	"github.com/field-4d/cloud-sub000/adapters/gateway/mongo"
	crypto_util "github.com/field-4d/cloud-sub000/crypto-util"
	"github.com/field-4d/cloud-sub000/middleware"
	"github.com/field-4d/cloud-sub000/model"
	"github.com/field-4d/cloud-sub000/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	config  = "config.yaml"
	version = 0.1
	seed    = "this is my test"
)

var CompileDate string

type Intervals struct {
	IndexRefreshSec int `yaml:"IndexRefreshSec"`
	SyncSec         int `yaml:"SyncSec"`
	AggregateSec    int `yaml:"AggregateSec"`
	DeadManMinutes  int `yaml:"DeadManMinutes"`
}

type Config struct {
	controller.ControllerConfig `yaml:"ControllerConfig"`
	mqtt.MqttConfig             `yaml:"Mqtt"`
	mongo.MongoConfig           `yaml:"Mongo"`
	mail.SmtpConfig             `yaml:"Smtp"`
	Intervals                   `yaml:"Intervals"`
	DefaultRecipients           []string `yaml:"DefaultRecipients"`
	Duration                    int      `yaml:"Duration"`
	LogLevel                    int      `yaml:"LogLevel"`
	EncryptionFlag              int      `yaml:"EncryptionFlag"`
}

// bufferStats gives the ops API its read-only view of the core.
type bufferStats struct {
	assembler *service.PacketAssembler
	scheduler *service.SyncScheduler
}

func (b bufferStats) PendingCount() int   { return b.assembler.PendingCount() }
func (b bufferStats) LastFlushCount() int { return b.scheduler.LastFlushCount() }

func main() {
	var (
		conf   Config
		svc    model.IService
		store  *mongo.Store
		api    *papi.Api
		wg     *sync.WaitGroup
		ctx    context.Context
		args   []string
		sig    chan os.Signal
		cancel context.CancelFunc
		err    error
	)
	args = os.Args

	fmt.Println("Starting cloud-sub000 v", version)
	fmt.Println(CompileDate)

	wg = &sync.WaitGroup{}

	if len(args) == 1 {
		conf = openConfigFile(config)
	} else {
		conf = openConfigFile(args[1])
	}

	if conf.EncryptionFlag == 1 {
		conf.MongoConfig.URI, err = decrypt(conf.MongoConfig.URI)
		if err != nil {
			log.Error().Err(err).Msg("Failed to decrypt mongo uri")
			os.Exit(-1)
		}
		conf.SmtpConfig.Password, err = decrypt(conf.SmtpConfig.Password)
		if err != nil {
			log.Error().Err(err).Msg("Failed to decrypt smtp password")
			os.Exit(-1)
		}
	}

	// provide additional info for the config/API
	conf.ControllerConfig.CompileDate = CompileDate
	conf.ControllerConfig.Version = fmt.Sprintf("%.2f", version)
	conf.ControllerConfig.LogLevel = conf.LogLevel
	conf.ControllerConfig.MqttConnection = conf.MqttConfig.Connection
	conf.ControllerConfig.MqttTopic = conf.MqttConfig.Topic

	// log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel + zerolog.Level(conf.LogLevel))

	fmt.Printf("Log level: ")
	switch zerolog.InfoLevel + zerolog.Level(conf.LogLevel) {
	case 5:
		fmt.Println("panic")
		conf.ControllerConfig.LogLevelString = "Panic"
	case 4:
		fmt.Println("fatal")
		conf.ControllerConfig.LogLevelString = "Fatal"
	case 3:
		fmt.Println("error")
		conf.ControllerConfig.LogLevelString = "Error"
	case 2:
		fmt.Println("warning")
		conf.ControllerConfig.LogLevelString = "Warning"
	case 1:
		fmt.Println("info")
		conf.ControllerConfig.LogLevelString = "Info"
	case 0:
		fmt.Println("debug")
		conf.ControllerConfig.LogLevelString = "Debug"
	case -1:
		fmt.Println("trace")
		conf.ControllerConfig.LogLevelString = "Trace"
	}

	// duration of the service (exit after duration)
	if conf.Duration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), time.Duration(conf.Duration)*time.Minute)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	// outbound gateways
	store, err = mongo.NewStore(ctx, conf.MongoConfig, conf.LogLevel)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to mongo")
		os.Exit(-1)
	}
	mailer := mail.NewSmtp(conf.SmtpConfig, conf.LogLevel)

	// core state, owned here and passed down explicitly
	assembler := service.NewPacketAssembler()
	buffers := service.NewAlertBuffers()
	suppression := service.NewSuppressionTable()
	index := service.NewActiveSensorIndex(store, conf.LogLevel)
	evaluator := service.NewImmediateAlertEvaluator(index, buffers, suppression, conf.LogLevel)

	scheduler := service.NewSyncScheduler(assembler, index, store, intervalOrDefault(conf.Intervals.SyncSec, 180), conf.LogLevel)
	aggregator := service.NewAlertAggregator(buffers, suppression, mailer, intervalOrDefault(conf.Intervals.AggregateSec, 180), conf.LogLevel)
	watcher := service.NewDeadManWatcher(index, mailer, conf.DefaultRecipients, conf.LogLevel)

	// new service with logging middleware
	svc = service.NewService(assembler, evaluator)
	svc = middleware.NewLogger(conf.LogLevel, svc)

	// periodic engines
	index.Start(ctx, wg, intervalOrDefault(conf.Intervals.IndexRefreshSec, 30))
	scheduler.Start(ctx, wg)
	aggregator.Start(ctx, wg)
	if conf.Intervals.DeadManMinutes > 0 {
		watcher.Start(ctx, wg, time.Duration(conf.Intervals.DeadManMinutes)*time.Minute)
	}

	// inbound uplink
	uplink, err := mqtt.NewMqtt(conf.MqttConfig, svc, conf.LogLevel, ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to uplink broker")
		os.Exit(-1)
	}
	uplink.Start(ctx, wg)

	// ops API
	api = papi.NewApi(conf.ControllerConfig, bufferStats{assembler: assembler, scheduler: scheduler}, watcher)
	api.Start(ctx, wg)

	sig = make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	// give 500 ms grace period to flush all logs
	time.Sleep(500 * time.Millisecond)
	wg.Wait()
	store.Close(context.Background())
}

func intervalOrDefault(sec, def int) time.Duration {
	if sec <= 0 {
		sec = def
	}
	return time.Duration(sec) * time.Second
}

func decrypt(cipheredTextSting string) (string, error) {

	var (
		key          = []byte(seed)
		res          []byte
		iv           []byte
		cipheredText []byte
		err          error
		plaintText   string
	)

	key = crypto_util.GenerateKey(string(key))
	iv, err = hex.DecodeString(crypto_util.IV)
	if err != nil {
		return "", errors.Join(err, errors.New("Failed to decode the IV"))
	}

	cipheredText, err = hex.DecodeString(cipheredTextSting)
	if err != nil {
		return "", errors.Join(err, errors.New("Failed to decode the ciphertext"))
	}

	res, err = crypto_util.DecryptAES256CBC(cipheredText, key, iv)
	if err != nil {
		return "", errors.Join(err, errors.New("Failed to decrypt"))
	}
	plaintText = string(res)
	plaintText = strings.TrimRightFunc(plaintText, func(r rune) bool {
		return unicode.IsControl(r)
	})

	return plaintText, nil
}

func openConfigFile(s string) Config {
	if s == "" {
		s = "config.yaml"
	}

	f, err := os.Open(s)
	if err != nil {
		processError(errors.Join(err, errors.New("open config.yaml file")))
	}
	defer f.Close()

	var config Config
	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(&config)
	if err != nil {
		processError(err)
	}
	return config
}

func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}
