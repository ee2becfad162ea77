// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON / YAML 加载配置
//   - 支持预设配置（desktop/server/minimal）
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Storage.Backend = "pebble"
//	cfg.Cache.TrackDeltas = true
//
//	// 应用预设到现有配置
//	config.ApplyPreset(cfg, "server")
//
//	// 从文件加载（按扩展名选择 JSON 或 YAML）
//	cfg, err := config.LoadFile("advcache.yaml")
package config

// Config 是 go-advcache 的完整配置结构
//
// 配置按照功能模块组织：
//   - Storage: 存储根目录与后端
//   - Cache: 通告缓存（Cm）行为
type Config struct {
	// Storage 存储配置
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Cache 通告缓存配置
	Cache CacheConfig `json:"cache" yaml:"cache"`
}

// NewConfig 创建默认配置
//
// 返回的配置使用所有组件的默认值，适用于大多数场景。
func NewConfig() *Config {
	return &Config{
		Storage: DefaultStorageConfig(),
		Cache:   DefaultCacheConfig(),
	}
}

// Validate 验证配置的有效性
//
// 检查所有子配置是否有效，如果发现无效配置则返回错误。
// 建议在使用配置前调用此方法。
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return nil
}
