package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dep2p/go-advcache/config"
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// ============= Fx 模块测试 =============

func TestModule_Basic(t *testing.T) {
	tmpDir := t.TempDir()

	var reg *registry.Registry
	var cfg Config

	unifiedCfg := config.NewConfig()
	unifiedCfg.Storage.DataDir = tmpDir
	unifiedCfg.Storage.Backend = config.BackendPebble

	app := fxtest.New(t,
		fx.Supply(unifiedCfg),
		Module(),
		fx.Populate(&reg, &cfg),
	)

	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, reg)
	assert.Equal(t, tmpDir, cfg.Path)
	assert.Equal(t, engine.BackendPebble, cfg.Backend)

	h, err := reg.Acquire(cfg.ToEngineConfig())
	require.NoError(t, err)
	defer h.Release()

	require.NoError(t, h.Engine().Put([]byte("test-key"), []byte("test-value")))
	got, err := h.Engine().Get([]byte("test-key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("test-value"), got)
}

func TestModule_StopClosesEngines(t *testing.T) {
	var reg *registry.Registry
	var cfg Config

	unifiedCfg := config.NewConfig()
	unifiedCfg.Storage.DataDir = t.TempDir()

	app := fxtest.New(t,
		fx.Supply(unifiedCfg),
		Module(),
		fx.Populate(&reg, &cfg),
	)
	app.RequireStart()

	h, err := reg.Acquire(cfg.ToEngineConfig())
	require.NoError(t, err)
	eng := h.Engine()
	require.NoError(t, eng.Put([]byte("k"), []byte("v")))

	app.RequireStop()
	assert.Equal(t, 0, reg.Len())
	assert.True(t, IsClosed(eng.Put([]byte("k"), []byte("v"))))
	assert.NoError(t, h.Release())
}

func TestModule_InvalidConfig(t *testing.T) {
	unifiedCfg := config.NewConfig()
	unifiedCfg.Storage.Backend = "leveldb"

	app := fx.New(
		fx.Supply(unifiedCfg),
		Module(),
		fx.Invoke(func(*registry.Registry) {}),
		fx.NopLogger,
	)
	assert.Error(t, app.Err())
}

// ============= 配置测试 =============

func TestConfig_Default(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, engine.BackendBTree, cfg.Backend)
	assert.Equal(t, 4096, cfg.PageSize)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"empty path", DefaultConfig().WithPath(""), true},
		{"memory without path", DefaultConfig().WithPath("").WithBackend(engine.BackendMemory), false},
		{"bad page size", DefaultConfig().WithPageSize(1000), true},
		{"unknown backend", DefaultConfig().WithBackend("rocks"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_FromUnified(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigFromUnified(nil))

	u := config.NewConfig()
	u.Storage.DataDir = "/srv/ac"
	u.Storage.Backend = "Badger"
	u.Storage.PageSize = 8192
	u.Storage.ValueLogDiscardRatio = 0.7

	cfg := ConfigFromUnified(u)
	assert.Equal(t, "/srv/ac", cfg.Path)
	assert.Equal(t, engine.BackendBadger, cfg.Backend)
	assert.Equal(t, 0.7, cfg.DiscardRatio)

	ec := cfg.ToEngineConfig()
	assert.Equal(t, 8192, ec.BTree.PageSize)
	assert.Equal(t, 0.7, ec.Badger.GCDiscardRatio)
	assert.Equal(t, cfg.BlockCacheSize, ec.Pebble.CacheSize)
}

// ============= 引擎选择测试 =============

func TestOpenEngine_Backends(t *testing.T) {
	for _, b := range []engine.Backend{engine.BackendBTree, engine.BackendBadger, engine.BackendPebble, engine.BackendMemory} {
		t.Run(string(b), func(t *testing.T) {
			cfg := DefaultConfig().WithPath(t.TempDir()).WithBackend(b)
			eng, err := NewEngine(cfg)
			require.NoError(t, err)
			defer eng.Close()

			kv := NewKVStore(eng, []byte("c/"))
			require.NoError(t, kv.Put([]byte("k"), []byte("v")))
			raw, err := eng.Get([]byte("c/k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), raw)
		})
	}

	_, err := OpenEngine(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpenEngine_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := New(file)
	require.Error(t, err)
	assert.Equal(t, engine.URINotADir, CodeOf(err))
}

// ============= 数据持久化测试 =============

func TestPersistence(t *testing.T) {
	tmpDir := t.TempDir()

	// 第一次：写入数据
	{
		eng, err := New(tmpDir)
		require.NoError(t, err)
		require.NoError(t, eng.Put([]byte("persist-key"), []byte("persist-value")))
		require.NoError(t, eng.Close())
	}

	// 第二次：重新打开，验证数据存在
	{
		eng, err := New(tmpDir)
		require.NoError(t, err)
		defer eng.Close()

		val, err := eng.Get([]byte("persist-key"))
		require.NoError(t, err)
		assert.Equal(t, "persist-value", string(val))
	}
}

func TestRegistry_CloseAllReleasesFileLock(t *testing.T) {
	reg := NewRegistry()
	scfg := DefaultConfig().WithPath(t.TempDir())
	cfg := scfg.ToEngineConfig()

	h, err := reg.Acquire(cfg)
	require.NoError(t, err)
	require.NoError(t, reg.CloseAll())
	assert.NoError(t, h.Release())

	// 关闭后页文件锁已释放，可以再次独占打开
	eng, err := OpenEngine(cfg)
	require.NoError(t, err)
	assert.NoError(t, eng.Close())
}
