package server

import (
	"bytes"
	"fmt"

	"odataview/common"
)

func edmType(dt common.DataType, version int) string {
	switch dt {
	case common.DataTypeNumber:
		return "Edm.Double"
	case common.DataTypeBoolean:
		return "Edm.Boolean"
	case common.DataTypeDate:
		if version < 4 {
			return "Edm.DateTime"
		}
		return "Edm.DateTimeOffset"
	}
	return "Edm.String"
}

// buildMetadata 生成 $metadata 文档。v2 服务与常见实现一样声明 Edmx Version="1.0"
func buildMetadata(sets []*EntitySet, version int) []byte {
	var buffer bytes.Buffer
	buffer.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	if version < 4 {
		buffer.WriteString(`<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx">`)
		buffer.WriteString(`<edmx:DataServices m:DataServiceVersion="2.0" xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">`)
	} else {
		buffer.WriteString(`<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">`)
		buffer.WriteString(`<edmx:DataServices>`)
	}
	buffer.WriteString(`<Schema Namespace="odataview">`)
	for _, es := range sets {
		def := es.Def()
		buffer.WriteString(fmt.Sprintf(`<EntityType Name="%s"><Key>`, def.Name))
		for _, key := range def.Keys {
			buffer.WriteString(fmt.Sprintf(`<PropertyRef Name="%s"/>`, key))
		}
		buffer.WriteString(`</Key>`)
		for _, p := range def.Properties {
			buffer.WriteString(fmt.Sprintf(`<Property Name="%s" Type="%s"/>`, p.Name, edmType(p.Type, version)))
		}
		buffer.WriteString(`</EntityType>`)
	}
	buffer.WriteString(`<EntityContainer Name="Container">`)
	for _, es := range sets {
		buffer.WriteString(fmt.Sprintf(`<EntitySet Name="%s" EntityType="odataview.%s"/>`, es.Name(), es.Name()))
	}
	buffer.WriteString(`</EntityContainer></Schema></edmx:DataServices></edmx:Edmx>`)
	return buffer.Bytes()
}
