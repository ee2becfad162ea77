package advcache

import (
	"encoding/json"
	"time"

	"github.com/dep2p/go-advcache/config"
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/kv"
	"github.com/dep2p/go-advcache/internal/core/storage/registry"
	"github.com/google/uuid"
)

// AreaInfo 区域目录条目
type AreaInfo struct {
	Name    string    `json:"name"`
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
}

func catalogStore(eng engine.InternalEngine) *kv.Store {
	return kv.New(eng, catalogPrefix)
}

func lookupArea(eng engine.InternalEngine, area string) (*AreaInfo, error) {
	var info AreaInfo
	if err := catalogStore(eng).GetJSON([]byte(area), &info); err != nil {
		if engine.IsNotFound(err) {
			return nil, engine.Faultf(engine.ColNotFound, "open area", "area %q does not exist", area)
		}
		return nil, storeFault(engine.IdxCorrupted, "open area", err)
	}
	return &info, nil
}

// createAreaLocked 写入目录条目，调用方持有区域写锁
func createAreaLocked(eng engine.InternalEngine, area string, now time.Time) (*AreaInfo, error) {
	info := &AreaInfo{Name: area, ID: uuid.NewString(), Created: now.UTC()}
	if err := catalogStore(eng).PutJSON([]byte(area), info); err != nil {
		return nil, storeFault(engine.ColCannotCreate, "create area", err)
	}
	logger.Info("创建区域", "area", area, "id", info.ID)
	return info, nil
}

// CreateArea 在存储根下创建区域
//
// 区域已存在时返回 ColDuplicate 故障（errors.Is(err, ErrAreaExists)）。
func CreateArea(h *registry.Handle, area string) (*AreaInfo, error) {
	if !config.ValidArea(area) {
		return nil, engine.NewFault(engine.URIInvalidPath, "create area", ErrInvalidArea)
	}
	st := attachState(h, area, 0)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := lookupArea(h.Engine(), area); err == nil {
		return nil, engine.Faultf(engine.ColDuplicate, "create area", "area %q already exists", area)
	} else if !IsAreaNotFound(err) {
		return nil, err
	}
	info, err := createAreaLocked(h.Engine(), area, time.Now())
	if err != nil {
		return nil, err
	}
	st.dropped = false
	return info, nil
}

// DropArea 删除区域及其全部记录和索引，不影响同一存储根下的其他区域
//
// 区域不存在时返回 ColNotFound 故障。已打开该区域的 Cm 实例之后的操作
// 返回 ColNotFound，直到区域被重新创建。
func DropArea(h *registry.Handle, area string) error {
	if !config.ValidArea(area) {
		return engine.NewFault(engine.URIInvalidPath, "drop area", ErrInvalidArea)
	}
	st := attachState(h, area, 0)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := lookupArea(h.Engine(), area); err != nil {
		return err
	}
	eng := h.Engine()
	if err := kv.New(eng, areaPrefix(area)).DeletePrefix(nil); err != nil {
		return storeFault(engine.ColCannotDrop, "drop area", err)
	}
	if err := catalogStore(eng).Delete([]byte(area)); err != nil {
		return storeFault(engine.ColCannotDrop, "drop area", err)
	}
	st.reset()
	st.dropped = true
	logger.Info("删除区域", "area", area)
	return nil
}

// Areas 按名称顺序返回存储根下的全部区域（目录键即区域名，扫描顺序即名称顺序）
func Areas(h *registry.Handle) ([]AreaInfo, error) {
	var (
		out  []AreaInfo
		bad  int
		info AreaInfo
	)
	err := catalogStore(h.Engine()).PrefixScan(nil, func(_, value []byte) bool {
		info = AreaInfo{}
		if err := json.Unmarshal(value, &info); err != nil {
			bad++
			return true
		}
		out = append(out, info)
		return true
	})
	if err != nil {
		return nil, storeFault(engine.RuntimeIO, "list areas", err)
	}
	if bad > 0 {
		logger.Warn("区域目录中存在损坏的条目", "count", bad)
	}
	return out, nil
}
