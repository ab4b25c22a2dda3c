package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config — корневая структура конфигурации движка размещения тайлов
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// EngineConfig — настраиваемые константы хранилища и планировщика.
// Пороги планировщика областей — настроечные константы, а не жёсткие
// алгоритмические границы.
type EngineConfig struct {
	BucketSize       float64 `yaml:"bucket_size"`        // ячейка пространственного индекса
	RegionSize       float64 `yaml:"region_size"`        // ячейка области (существенно крупнее ячейки индекса)
	ChunkCapacity    int     `yaml:"chunk_capacity"`     // экземпляров на чанк
	AreaSmallVolume  float64 `yaml:"area_small_volume"`  // до этого объёма — индекс + точная проверка
	AreaMediumVolume float64 `yaml:"area_medium_volume"` // до этого объёма — индекс + допуск
	AreaTolerance    float64 `yaml:"area_tolerance"`     // допуск среднего яруса
}

// StorageConfig — настройки сохранённого набора тайлов
type StorageConfig struct {
	DataPath string `yaml:"data_path"`
}

// LogConfig — настройки логирования
type LogConfig struct {
	Dir string `yaml:"dir"`
}

// MetricsConfig — настройки экспорта метрик
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			BucketSize:       8.0,
			RegionSize:       64.0,
			ChunkCapacity:    512,
			AreaSmallVolume:  4096.0,
			AreaMediumVolume: 262144.0,
			AreaTolerance:    8.0,
		},
		Storage: StorageConfig{DataPath: "data"},
		Log:     LogConfig{Dir: "logs"},
		Metrics: MetricsConfig{Port: 9100},
	}
}

// Load читает конфигурацию из YAML-файла, накладывая её на значения
// по умолчанию
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize возвращает невалидные значения к значениям по умолчанию
func (c *Config) normalize() {
	def := Default()
	if c.Engine.BucketSize <= 0 {
		c.Engine.BucketSize = def.Engine.BucketSize
	}
	if c.Engine.RegionSize <= 0 {
		c.Engine.RegionSize = def.Engine.RegionSize
	}
	if c.Engine.ChunkCapacity <= 0 {
		c.Engine.ChunkCapacity = def.Engine.ChunkCapacity
	}
	if c.Engine.AreaSmallVolume <= 0 {
		c.Engine.AreaSmallVolume = def.Engine.AreaSmallVolume
	}
	if c.Engine.AreaMediumVolume < c.Engine.AreaSmallVolume {
		c.Engine.AreaMediumVolume = def.Engine.AreaMediumVolume
	}
	if c.Engine.AreaTolerance < 0 {
		c.Engine.AreaTolerance = def.Engine.AreaTolerance
	}
}

// GetDataPath возвращает путь к данным с поддержкой fallback через окружение
func (s *StorageConfig) GetDataPath() string {
	if env := os.Getenv("TILE_ENGINE_DATA_PATH"); env != "" {
		return env
	}
	if s.DataPath != "" {
		return s.DataPath
	}
	return "data"
}

// GetPort возвращает порт метрик с поддержкой fallback через окружение
func (m *MetricsConfig) GetPort() int {
	if env := os.Getenv("TILE_ENGINE_METRICS_PORT"); env != "" {
		if port, err := strconv.Atoi(env); err == nil && port > 0 && port < 65536 {
			return port
		}
	}
	if m.Port > 0 {
		return m.Port
	}
	return 9100
}
