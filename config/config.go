package config

import (
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

type Config struct {
	App       App           `yaml:"app"`
	Server    Server        `yaml:"server"`
	Transcode Transcode     `yaml:"transcode"`
	DB        *sql.DB       `yaml:"db"`
	Queue     *RabbitMQ     `yaml:"rabbitmq"`
	Cache     *redis.Client `yaml:"cache"`
	Storage   *minio.Client `yaml:"storage"`

	// PublishBucket is empty when object-storage publishing is disabled.
	PublishBucket string `yaml:"publish_bucket"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type Transcode struct {
	// MediaRoot is the directory uploads live under and HLS output is
	// written under (<media_root>/videos/hls/<media_id>/).
	MediaRoot string `yaml:"media_root"`
	// MediaBaseUrl prefixes manifest URLs handed to players.
	MediaBaseUrl      string `yaml:"media_base_url"`
	FfmpegPath        string `yaml:"ffmpeg_path"`
	SegmentSeconds    int    `yaml:"segment_seconds"`
	StaleAfterSeconds int    `yaml:"stale_after_seconds"`
	StatusCacheTTLSec int    `yaml:"status_cache_ttl_seconds"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	QueueName    string `json:"queue_name"`
	RoutingKey   string `json:"routing_key"`
	Kind         string `json:"kind"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("rabbitmq_exchange", "transcoding_exchange")
	viper.SetDefault("rabbitmq_queue", "transcoding_queue")
	viper.SetDefault("rabbitmq_routing_key", "transcoding.request")
	viper.SetDefault("rabbitmq_kind", "direct")
	viper.SetDefault("server.workers", 2)
	viper.SetDefault("transcode.ffmpeg_path", "ffmpeg")
	viper.SetDefault("transcode.segment_seconds", 10)
	viper.SetDefault("transcode.stale_after_seconds", 600)
	viper.SetDefault("transcode.status_cache_ttl_seconds", 3)

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		ExchangeName: viper.GetString("rabbitmq_exchange"),
		QueueName:    viper.GetString("rabbitmq_queue"),
		RoutingKey:   viper.GetString("rabbitmq_routing_key"),
		Kind:         viper.GetString("rabbitmq_kind"),
	}

	var cache *redis.Client
	if addr := viper.GetString("redis.addr"); addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
	}

	var storage *minio.Client
	if url := viper.GetString("minio.url"); url != "" {
		storage, err = minio.New(url, &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
			Secure: false,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Transcode: Transcode{
			MediaRoot:         viper.GetString("transcode.media_root"),
			MediaBaseUrl:      viper.GetString("transcode.media_base_url"),
			FfmpegPath:        viper.GetString("transcode.ffmpeg_path"),
			SegmentSeconds:    viper.GetInt("transcode.segment_seconds"),
			StaleAfterSeconds: viper.GetInt("transcode.stale_after_seconds"),
			StatusCacheTTLSec: viper.GetInt("transcode.status_cache_ttl_seconds"),
		},
		DB:            db,
		Queue:         rabbitmq,
		Cache:         cache,
		Storage:       storage,
		PublishBucket: viper.GetString("minio.bucket"),
	}, nil
}
