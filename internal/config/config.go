// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Rerank    RerankConfig    `mapstructure:"rerank"`
	Arxiv     ArxivConfig     `mapstructure:"arxiv"`
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	Parser    ParserConfig    `mapstructure:"parser"`
	Daily     DailyConfig     `mapstructure:"daily"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储 SQLite 数据库文件的配置。
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// StorageConfig 存储所有持久化文件的路径配置。
type StorageConfig struct {
	PaperPDFDir       string `mapstructure:"paper_pdf_dir"`
	StructuredDataDir string `mapstructure:"structured_data_dir"`
	ReportsDir        string `mapstructure:"reports_dir"`
	IndexPath         string `mapstructure:"index_path"`
	CategoriesPath    string `mapstructure:"categories_path"`
	PreferencesPath   string `mapstructure:"preferences_path"`
	SettingsOverride  string `mapstructure:"settings_override_path"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	JSONRetries    int    `mapstructure:"json_retries"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RerankConfig 存储交叉编码重排序服务的配置。
type RerankConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ArxivConfig 存储 arXiv 数据源的配置。
type ArxivConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// WebSearchConfig 存储在线搜索服务的配置。
type WebSearchConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ParserConfig 存储文档解析服务的配置。
type ParserConfig struct {
	ServerURL      string `mapstructure:"server_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DailyConfig 存储每日工作流的静态配置。
type DailyConfig struct {
	CronSpec      string   `mapstructure:"cron_spec"`
	StrongTeams   []string `mapstructure:"strong_teams"`
	StrongAuthors []string `mapstructure:"strong_authors"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
