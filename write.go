package odataview

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"

	"odataview/attribute"
	"odataview/common"
	"odataview/utils"

	"github.com/pkg/errors"
	"github.com/tidwall/sjson"
)

// WriteURL 生成写请求地址：<service>/<table>[(k1=v1,k2=v2)]
func WriteURL(serviceURL, table string, keys []string, item utils.JSONMap, types map[string]common.DataType) (url string, err error) {
	var buffer bytes.Buffer
	buffer.WriteString(strings.TrimRight(serviceURL, "/"))
	buffer.WriteString("/")
	buffer.WriteString(table)
	if item == nil {
		url = buffer.String()
		return
	}
	if len(keys) == 0 {
		err = common.ErrNoKeys
		return
	}
	buffer.WriteString("(")
	for idx, key := range keys {
		value := item[key]
		if value == nil {
			err = errors.Wrapf(common.ErrMissingKey, "key %s", key)
			return
		}
		var literal string
		if literal, err = attribute.Literal(value, types[key]); err != nil {
			return
		}
		if idx != 0 {
			buffer.WriteString(",")
		}
		buffer.WriteString(key)
		buffer.WriteString("=")
		buffer.WriteString(literal)
	}
	buffer.WriteString(")")
	url = buffer.String()
	return
}

// Payload 把 item 序列化为写请求的 JSON：
// 按 key 排序，丢弃 __metadata 和 odata 注解，version<4 时数字写成字符串
func Payload(item utils.JSONMap, types map[string]common.DataType, version common.Version) (data []byte, err error) {
	data = []byte("{}")
	for _, key := range item.Keys() {
		if key == "__metadata" || strings.HasPrefix(key, "@odata.") || strings.HasPrefix(key, "odata.") {
			continue
		}
		wire := attribute.For(types[key]).Wire(item[key], version)
		if data, err = sjson.SetBytes(data, escapePath(key), wire); err != nil {
			err = errors.Wrapf(err, "set payload field %s", key)
			return
		}
	}
	return
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`, ":", `\:`)

func escapePath(key string) string {
	return pathEscaper.Replace(key)
}

// AddNew 新建一条待提交的记录并加入视图
func (v *CollectionView) AddNew() utils.JSONMap {
	v.lock.Lock()
	defer v.lock.Unlock()
	item := utils.JSONMap{}
	v.pending = item
	v.store.add(item)
	return item
}

// CommitNew POST 待提交的记录；成功后把服务端分配的 key 写回该记录并刷新
func (v *CollectionView) CommitNew(ctx context.Context) (err error) {
	v.lock.Lock()
	item := v.pending
	v.lock.Unlock()
	if item == nil {
		err = common.ErrNoPendingItem
		return
	}
	version := v.resolveVersion(ctx)

	v.lock.Lock()
	types, keys := v.state.dataTypes, v.keys
	payload, err := Payload(item, types, version)
	url, _ := WriteURL(v.config.ServiceURL, v.config.Table, nil, nil, nil)
	v.lock.Unlock()
	if err != nil {
		return
	}

	data, err := v.transport.send(ctx, http.MethodPost, url, payload)
	if errors.Is(err, errHandled) {
		err = nil
		return
	}
	if err != nil {
		return
	}

	body := entityBody(data)
	v.lock.Lock()
	for _, key := range keys {
		value := body.Get(escapePath(key))
		if !value.Exists() {
			continue
		}
		parsed, perr := attribute.For(types[key]).Parse(value.Value())
		if perr != nil {
			parsed = value.Value()
		}
		item[key] = parsed
	}
	if utils.Same(v.pending, item) {
		v.pending = nil
	}
	v.lock.Unlock()
	v.logger.Debug("item created", slog.Any("keys", keys))
	v.Refresh()
	return
}

// EditItem 记录编辑前的快照
func (v *CollectionView) EditItem(item utils.JSONMap) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.editing = item
	v.snapshot = item.Clone()
	v.snapshotStable = item.Stable()
}

// CommitEdit 只有内容相对快照发生变化时才 PUT
func (v *CollectionView) CommitEdit(ctx context.Context) (err error) {
	v.lock.Lock()
	item, stable := v.editing, v.snapshotStable
	v.editing, v.snapshot, v.snapshotStable = nil, nil, ""
	v.lock.Unlock()
	if item == nil {
		err = common.ErrNotEditing
		return
	}
	if item.Stable() == stable {
		return
	}
	if err = v.write(ctx, http.MethodPut, item); errors.Is(err, errHandled) {
		err = nil
	}
	return
}

// CancelEdit 恢复编辑前的内容
func (v *CollectionView) CancelEdit() {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.editing == nil {
		return
	}
	for key := range v.editing {
		delete(v.editing, key)
	}
	for key, value := range v.snapshot {
		v.editing[key] = value
	}
	v.editing, v.snapshot, v.snapshotStable = nil, nil, ""
}

// Remove 删除记录；尚未提交的新记录只在本地移除
func (v *CollectionView) Remove(ctx context.Context, item utils.JSONMap) (err error) {
	v.lock.Lock()
	if utils.Same(item, v.pending) {
		v.pending = nil
		v.store.remove(item)
		v.lock.Unlock()
		return
	}
	v.lock.Unlock()
	if err = v.write(ctx, http.MethodDelete, item); err != nil {
		if errors.Is(err, errHandled) {
			err = nil
		}
		return
	}
	v.lock.Lock()
	v.store.remove(item)
	v.lock.Unlock()
	return
}

// write 发送带 key 的 PUT / DELETE
func (v *CollectionView) write(ctx context.Context, method string, item utils.JSONMap) (err error) {
	version := v.resolveVersion(ctx)
	v.lock.Lock()
	url, err := WriteURL(v.config.ServiceURL, v.config.Table, v.keys, item, v.state.dataTypes)
	var payload []byte
	if err == nil && method != http.MethodDelete {
		payload, err = Payload(item, v.state.dataTypes, version)
	}
	v.lock.Unlock()
	if err != nil {
		return
	}
	_, err = v.transport.send(ctx, method, url, payload)
	return
}
