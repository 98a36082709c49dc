// Package schema validates loosely typed configuration documents against
// strongly typed section structs.
//
// # Overview
//
// A section is a plain Go struct. Its layout is described by struct tags and
// reflected once into a Descriptor:
//
//	type RedisConfig struct {
//		FactDB string `mapstructure:"fact_db"`
//		Host   string `mapstructure:"host"`
//		Port   int    `mapstructure:"port" validate:"gte=0,lte=65535"`
//		Pool   int    `mapstructure:"pool" default:"4"`
//	}
//
// Tags:
//
//	mapstructure:"name"    document key of the field
//	mapstructure:",remain" catch-all map; makes the section allow unknown keys
//	default:"value"        default applied before validation; fields without one are required
//	validate:"..."         go-playground/validator constraints checked after decoding
//
// # Decoding
//
// Decode applies defaults, checks the type of every present value (lists and
// maps element by element), decodes with mapstructure, reports unknown and
// missing keys, then runs the validator constraints. All problems found in a
// section are returned together in a single *ValidationError.
//
//	var cfg RedisConfig
//	if err := schema.Decode("redis", raw, &cfg); err != nil {
//		var verr *schema.ValidationError
//		if errors.As(err, &verr) {
//			for _, issue := range verr.Issues {
//				fmt.Println(issue.Field, issue.Constraint)
//			}
//		}
//	}
//
// # Related Packages
//
//   - pkg/config: builds the backend, frontend and common sections with this package
package schema
