package server

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/tidwall/gjson"

	"odataview/attribute"
	"odataview/common"
	"odataview/tx"
	"odataview/utils"
)

var (
	ErrEntitySetNotFound = errors.New("entity set not found")
	ErrEntityNotFound    = errors.New("entity not found")
	ErrEntityExists      = errors.New("entity already exists")
	ErrInvalidEntity     = errors.New("invalid entity")
)

var (
	rxName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	rxPath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(/[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Property 是 entity set 的一个字段定义
type Property struct {
	Name string          `json:"name" mapstructure:"name" validate:"required"`
	Type common.DataType `json:"type" mapstructure:"type"`
}

// EntitySetDef 描述一个 entity set：名字、主键和字段类型
type EntitySetDef struct {
	Name       string     `json:"name" mapstructure:"name" validate:"required"`
	Keys       []string   `json:"keys" mapstructure:"keys" validate:"min=1"`
	Properties []Property `json:"properties" mapstructure:"properties" validate:"dive"`
}

func (d EntitySetDef) Validate() (err error) {
	if err = configValidate.Struct(d); err != nil {
		return errors.Wrap(ErrInvalidEntity, err.Error())
	}
	names := append([]string{d.Name}, d.Keys...)
	for _, p := range d.Properties {
		if _, err = common.ParseDataType(string(p.Type)); err != nil {
			return errors.Wrap(ErrInvalidEntity, err.Error())
		}
		names = append(names, p.Name)
	}
	for _, name := range names {
		if !rxName.MatchString(name) {
			return errors.Wrapf(ErrInvalidEntity, "invalid name %q", name)
		}
	}
	return
}

// EntitySet 把一个 OData entity set 映射到 sqlite 的一张数据表，
// 每条记录保存在 data 列中
type EntitySet struct {
	lock      *sync.Mutex
	db        *SqliteStore
	def       EntitySetDef
	dataTable string
	types     map[string]common.DataType
}

func newEntitySet(db *SqliteStore, def EntitySetDef, dataTable string) *EntitySet {
	types := map[string]common.DataType{}
	for _, p := range def.Properties {
		types[p.Name] = p.Type
	}
	return &EntitySet{
		lock:      &sync.Mutex{},
		db:        db,
		def:       def,
		dataTable: dataTable,
		types:     types,
	}
}

func (es *EntitySet) Name() string {
	return es.def.Name
}

func (es *EntitySet) Keys() []string {
	return es.def.Keys
}

func (es *EntitySet) Def() EntitySetDef {
	return es.def
}

// CreateEntitySet 创建 entity set 及其数据表，已存在时直接打开
func (s *SqliteStore) CreateEntitySet(ctx context.Context, def EntitySetDef) (es *EntitySet, err error) {
	if err = def.Validate(); err != nil {
		return
	}
	if es, err = s.OpenEntitySet(ctx, def.Name); err == nil || !errors.Is(err, ErrEntitySetNotFound) {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	wtx, err := s.WriteTx(ctx)
	if err != nil {
		return
	}
	defer tx.Finish(wtx, &err)

	dataTable := "set_" + strings.ToLower(def.Name)
	metaInfo := utils.JSONMap{
		"keys":       def.Keys,
		"properties": def.Properties,
	}
	insertSet := `
	INSERT INTO entity_sets
	(set_name, data_table, meta_info)
	VALUES
	(?, ?, ?)`
	if _, err = wtx.Exec(insertSet, def.Name, dataTable, metaInfo); err != nil {
		return
	}
	createDataTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		row_id INTEGER PRIMARY KEY AUTOINCREMENT,
		data TEXT NOT NULL
	);`, dataTable)
	if _, err = wtx.Exec(createDataTable); err != nil {
		return
	}
	// 主键字段的索引
	for _, key := range def.Keys {
		createIndex := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(data ->> '$."%s"');`,
			dataTable, strings.ToLower(key), dataTable, key,
		)
		if _, err = wtx.Exec(createIndex); err != nil {
			err = errors.Wrapf(err, "on stmt:%s", createIndex)
			return
		}
	}
	es = newEntitySet(s, def, dataTable)
	return
}

func (s *SqliteStore) OpenEntitySet(ctx context.Context, name string) (es *EntitySet, err error) {
	rtx, err := s.ReadTx(ctx)
	if err != nil {
		return
	}
	defer tx.Finish(rtx, &err)
	var dataTable string
	var metaInfo utils.JSONMap
	stmt := `SELECT data_table, meta_info FROM entity_sets WHERE set_name = ?`
	if err = rtx.QueryRow(stmt, name).Scan(&dataTable, &metaInfo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = errors.Wrap(ErrEntitySetNotFound, name)
		}
		return
	}
	def, err := parseDef(name, metaInfo)
	if err != nil {
		return
	}
	es = newEntitySet(s, def, dataTable)
	return
}

// ListEntitySets 返回已创建的全部 entity set
func (s *SqliteStore) ListEntitySets(ctx context.Context) (list []*EntitySet, err error) {
	rtx, err := s.ReadTx(ctx)
	if err != nil {
		return
	}
	defer tx.Finish(rtx, &err)
	rows, err := rtx.Query(`SELECT set_name, data_table, meta_info FROM entity_sets ORDER BY set_name`)
	if err != nil {
		return
	}
	defer rows.Close()
	list = []*EntitySet{}
	for rows.Next() {
		var name, dataTable string
		var metaInfo utils.JSONMap
		if err = rows.Scan(&name, &dataTable, &metaInfo); err != nil {
			return
		}
		var def EntitySetDef
		if def, err = parseDef(name, metaInfo); err != nil {
			return
		}
		list = append(list, newEntitySet(s, def, dataTable))
	}
	err = rows.Err()
	return
}

func parseDef(name string, metaInfo utils.JSONMap) (def EntitySetDef, err error) {
	raw, err := metaInfo.Value()
	if err != nil {
		return
	}
	result := gjson.Parse(raw.(string))
	def.Name = name
	for _, key := range result.Get("keys").Array() {
		def.Keys = append(def.Keys, key.String())
	}
	for _, p := range result.Get("properties").Array() {
		def.Properties = append(def.Properties, Property{
			Name: p.Get("name").String(),
			Type: common.DataType(p.Get("type").String()),
		})
	}
	return
}

// normalize 按字段类型转换 item，日期统一保存为 ISOLayout 字符串
func (es *EntitySet) normalize(item utils.JSONMap) (err error) {
	for key, value := range item {
		if value == nil {
			continue
		}
		dt, ok := es.types[key]
		if !ok {
			if s, isString := value.(string); isString && attribute.IsDateLike(s) {
				dt = common.DataTypeDate
			} else {
				continue
			}
		}
		if dt == common.DataTypeDate {
			if item[key], err = normalizeDate(value); err != nil {
				return errors.Wrapf(ErrInvalidEntity, "%s: %v", key, err)
			}
			continue
		}
		if item[key], err = attribute.For(dt).Parse(value); err != nil {
			return errors.Wrapf(ErrInvalidEntity, "%s: %v", key, err)
		}
	}
	return
}

// keyWhere 生成按主键定位记录的 WHERE 子句
func (es *EntitySet) keyWhere(key map[string]interface{}) (stmt string, args []interface{}, err error) {
	conds := []string{}
	for _, k := range es.def.Keys {
		value, ok := key[k]
		if !ok || value == nil {
			err = errors.Wrapf(common.ErrMissingKey, "%s", k)
			return
		}
		if es.types[k] == common.DataTypeDate {
			if value, err = normalizeDate(value); err != nil {
				return
			}
		} else if value, err = attribute.For(es.types[k]).Parse(value); err != nil {
			err = errors.Wrapf(ErrInvalidEntity, "%s: %v", k, err)
			return
		}
		conds = append(conds, jsonPath(k)+" = ?")
		args = append(args, sqlValue(value))
	}
	stmt = " WHERE " + strings.Join(conds, " AND ")
	return
}

// assignKeys 为缺失的主键生成值：数字主键取最大值加一，其它用 xid
func (es *EntitySet) assignKeys(wtx tx.WriteTx, item utils.JSONMap) (err error) {
	for _, k := range es.def.Keys {
		if item[k] != nil {
			continue
		}
		if es.types[k] != common.DataTypeNumber {
			item[k] = xid.New().String()
			continue
		}
		var max float64
		stmt := fmt.Sprintf(`SELECT COALESCE(MAX(%s), 0) FROM %s`, jsonPath(k), es.dataTable)
		if err = wtx.QueryRow(stmt).Scan(&max); err != nil {
			return
		}
		item[k] = max + 1
	}
	return
}

func (es *EntitySet) Insert(ctx context.Context, item utils.JSONMap) (created utils.JSONMap, err error) {
	es.lock.Lock()
	defer es.lock.Unlock()
	created = item.Clone()
	if err = es.normalize(created); err != nil {
		return
	}
	wtx, err := es.db.WriteTx(ctx)
	if err != nil {
		return
	}
	defer tx.Finish(wtx, &err)
	if err = es.assignKeys(wtx, created); err != nil {
		return
	}
	where, args, err := es.keyWhere(created)
	if err != nil {
		return
	}
	var exists int
	if err = wtx.QueryRow(`SELECT COUNT(*) FROM `+es.dataTable+where, args...).Scan(&exists); err != nil {
		return
	}
	if exists > 0 {
		err = ErrEntityExists
		return
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (data) VALUES (?)`, es.dataTable)
	if _, err = wtx.Exec(stmt, created); err != nil {
		return
	}
	return
}

func (es *EntitySet) Get(ctx context.Context, key map[string]interface{}) (item utils.JSONMap, err error) {
	where, args, err := es.keyWhere(key)
	if err != nil {
		return
	}
	rtx, err := es.db.ReadTx(ctx)
	if err != nil {
		return
	}
	defer tx.Finish(rtx, &err)
	stmt := fmt.Sprintf(`SELECT data FROM %s%s`, es.dataTable, where)
	if err = rtx.QueryRow(stmt, args...).Scan(&item); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrEntityNotFound
		}
	}
	return
}

// Update 用 item 整体替换记录，主键以 key 为准
func (es *EntitySet) Update(ctx context.Context, key map[string]interface{}, item utils.JSONMap) (err error) {
	es.lock.Lock()
	defer es.lock.Unlock()
	where, args, err := es.keyWhere(key)
	if err != nil {
		return
	}
	updated := item.Clone()
	for _, k := range es.def.Keys {
		updated[k] = key[k]
	}
	if err = es.normalize(updated); err != nil {
		return
	}
	wtx, err := es.db.WriteTx(ctx)
	if err != nil {
		return
	}
	defer tx.Finish(wtx, &err)
	stmt := fmt.Sprintf(`UPDATE %s SET data = ?%s`, es.dataTable, where)
	result, err := wtx.Exec(stmt, append([]interface{}{updated}, args...)...)
	if err != nil {
		return
	}
	return affected(result)
}

func (es *EntitySet) Delete(ctx context.Context, key map[string]interface{}) (err error) {
	es.lock.Lock()
	defer es.lock.Unlock()
	where, args, err := es.keyWhere(key)
	if err != nil {
		return
	}
	wtx, err := es.db.WriteTx(ctx)
	if err != nil {
		return
	}
	defer tx.Finish(wtx, &err)
	result, err := wtx.Exec(fmt.Sprintf(`DELETE FROM %s%s`, es.dataTable, where), args...)
	if err != nil {
		return
	}
	return affected(result)
}

func affected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// Seed 批量插入一个 JSON 数组中的记录
func (es *EntitySet) Seed(ctx context.Context, data []byte) (n int, err error) {
	if !gjson.ValidBytes(data) {
		err = errors.Wrap(ErrInvalidEntity, "seed data is not valid json")
		return
	}
	result := gjson.ParseBytes(data)
	if !result.IsArray() {
		err = errors.Wrap(ErrInvalidEntity, "seed data is not an array")
		return
	}
	for _, raw := range result.Array() {
		item, ok := raw.Value().(map[string]interface{})
		if !ok {
			err = errors.Wrapf(ErrInvalidEntity, "seed item %d is not an object", n)
			return
		}
		if _, err = es.Insert(ctx, item); err != nil {
			return
		}
		n++
	}
	return
}
