package config

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/gcp"
)

// loadOptionTypes lists the keys accepted in staging.options and the type
// each value is converted to
var loadOptionTypes = map[string]cty.Type{
	"skip_leading_rows":     cty.Number,
	"field_delimiter":       cty.String,
	"allow_jagged_rows":     cty.Bool,
	"ignore_unknown_values": cty.Bool,
	"autodetect":            cty.Bool,
	"write_disposition":     cty.String,
}

// applyLoadOptions overrides opts with the attributes present in val, which
// must be an object or map
func applyLoadOptions(opts *gcp.LoadOptions, val cty.Value) error {
	if val.IsNull() {
		return nil
	}
	if !val.IsWhollyKnown() {
		return pipelineErrors.NewInvalidConfigError("staging.options", "value must be known at load time")
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return pipelineErrors.NewInvalidConfigError("staging.options", fmt.Sprintf("expected an object, got %s", ty.FriendlyName()))
	}

	attrs := val.AsValueMap()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want, ok := loadOptionTypes[key]
		if !ok {
			return pipelineErrors.NewInvalidConfigError("staging.options."+key, "unsupported load option")
		}
		converted, err := convert.Convert(attrs[key], want)
		if err != nil {
			return pipelineErrors.NewInvalidConfigError("staging.options."+key, err.Error())
		}
		if converted.IsNull() {
			continue
		}

		switch key {
		case "skip_leading_rows":
			err = gocty.FromCtyValue(converted, &opts.SkipLeadingRows)
		case "field_delimiter":
			err = gocty.FromCtyValue(converted, &opts.FieldDelimiter)
		case "allow_jagged_rows":
			err = gocty.FromCtyValue(converted, &opts.AllowJaggedRows)
		case "ignore_unknown_values":
			err = gocty.FromCtyValue(converted, &opts.IgnoreUnknownValues)
		case "autodetect":
			err = gocty.FromCtyValue(converted, &opts.Autodetect)
		case "write_disposition":
			err = gocty.FromCtyValue(converted, &opts.WriteDisposition)
		}
		if err != nil {
			return pipelineErrors.NewInvalidConfigError("staging.options."+key, err.Error())
		}
	}
	return nil
}
