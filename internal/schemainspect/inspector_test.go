package schemainspect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbashand/dbreplicate/internal/model"
)

func TestClassifyFamilyIntegerTypes(t *testing.T) {
	assert.Equal(t, model.FamilyInteger, classifyFamily("smallint", ""))
	assert.Equal(t, model.FamilyInteger, classifyFamily("integer", ""))
	assert.Equal(t, model.FamilyInteger, classifyFamily("bigint", ""))
}

func TestClassifyFamilyNumericTypes(t *testing.T) {
	assert.Equal(t, model.FamilyNumeric, classifyFamily("numeric", ""))
	assert.Equal(t, model.FamilyNumeric, classifyFamily("double precision", ""))
}

func TestClassifyFamilyBoolean(t *testing.T) {
	assert.Equal(t, model.FamilyBoolean, classifyFamily("boolean", ""))
}

func TestClassifyFamilyTemporalTypes(t *testing.T) {
	assert.Equal(t, model.FamilyTemporal, classifyFamily("timestamp with time zone", ""))
	assert.Equal(t, model.FamilyTemporal, classifyFamily("date", ""))
	assert.Equal(t, model.FamilyTemporal, classifyFamily("time without time zone", ""))
}

func TestClassifyFamilyJSON(t *testing.T) {
	assert.Equal(t, model.FamilyJSON, classifyFamily("json", ""))
	assert.Equal(t, model.FamilyJSON, classifyFamily("jsonb", ""))
}

func TestClassifyFamilyUserDefinedIsEnum(t *testing.T) {
	assert.Equal(t, model.FamilyEnum, classifyFamily("USER-DEFINED", "order_status"))
}

func TestClassifyFamilyDefaultsToText(t *testing.T) {
	assert.Equal(t, model.FamilyText, classifyFamily("character varying", ""))
	assert.Equal(t, model.FamilyText, classifyFamily("text", ""))
}

func TestEnumNameIfUserDefinedReturnsUDTName(t *testing.T) {
	assert.Equal(t, "order_status", enumNameIfUserDefined("USER-DEFINED", "order_status"))
}

func TestEnumNameIfUserDefinedEmptyForOrdinaryTypes(t *testing.T) {
	assert.Equal(t, "", enumNameIfUserDefined("integer", ""))
}
