package attribute

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"odataview/common"
)

// ISOLayout 与 JavaScript Date.toJSON 的输出一致
const ISOLayout = "2006-01-02T15:04:05.000Z"

var (
	rxDate     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}|/Date\([\d\-]*?\)`)
	rxWireDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04",
	"2006-01-02",
}

type DateAttribute struct{}

func (d *DateAttribute) Type() common.DataType {
	return common.DataTypeDate
}

// IsDateLike 判断字符串是否像 ISO 日期或 /Date(ms)/
func IsDateLike(s string) bool {
	return rxDate.MatchString(s)
}

func (d *DateAttribute) Parse(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return value, nil
	case *time.Time:
		if value == nil {
			return nil, nil
		}
		return *value, nil
	case string:
		if value == "" {
			return nil, nil
		}
		return parseDateString(value)
	}
	if ms, ok := toFloat(v); ok {
		return time.UnixMilli(int64(ms)).UTC(), nil
	}
	return nil, fmt.Errorf("invalid date value:%v", v)
}

func parseDateString(s string) (t time.Time, err error) {
	if m := rxWireDate.FindStringSubmatch(s); m != nil {
		var ms int64
		if ms, err = strconv.ParseInt(m[1], 10, 64); err != nil {
			return
		}
		t = time.UnixMilli(ms).UTC()
		return
	}
	// 没有时区的 ISO 字符串按 UTC 处理
	for _, layout := range isoLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			t = t.UTC()
			return
		}
	}
	err = fmt.Errorf("parse date %q: unsupported format", s)
	return
}

// Literal datetime'ISO8601'
func (d *DateAttribute) Literal(v interface{}) (string, error) {
	parsed, err := d.Parse(v)
	if err != nil {
		return "", err
	}
	if parsed == nil {
		return "null", nil
	}
	return "datetime'" + parsed.(time.Time).UTC().Format(ISOLayout) + "'", nil
}

// Wire v4 使用 ISO 字符串，旧版本使用 /Date(ms)/
func (d *DateAttribute) Wire(v interface{}, version common.Version) interface{} {
	parsed, err := d.Parse(v)
	if err != nil || parsed == nil {
		return v
	}
	t := parsed.(time.Time)
	if version.Legacy() {
		return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// NextDay 返回 t 所在日期的下一天零点
func NextDay(t time.Time) time.Time {
	y, m, day := t.UTC().Date()
	return time.Date(y, m, day+1, 0, 0, 0, 0, time.UTC)
}
