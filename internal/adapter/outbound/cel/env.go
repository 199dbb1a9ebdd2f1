package cel

import (
	"path"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/authz"
)

// NewRouteEnvironment creates the CEL environment for route conditions:
//   - Variables: role, path, identity_id, email, account_status, request_time
//   - Functions: glob(pattern, path), email_domain(email)
func NewRouteEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("role", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("identity_id", cel.StringType),
		cel.Variable("email", cel.StringType),
		cel.Variable("account_status", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		// glob: path.Match against a route path.
		// Usage: glob("/admin/*", path)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := path.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// email_domain: the lowercased part after the last @.
		// Usage: email_domain(email) == "hospital.example.com"
		cel.Function("email_domain",
			cel.Overload("email_domain_string",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					s, _ := v.Value().(string)
					i := strings.LastIndex(s, "@")
					if i < 0 {
						return types.String("")
					}
					return types.String(strings.ToLower(s[i+1:]))
				}),
			),
		),
	)
}

// BuildActivation creates a CEL activation map from a condition input.
func BuildActivation(in authz.ConditionInput) map[string]any {
	return map[string]any{
		"role":           in.Role,
		"path":           in.Path,
		"identity_id":    in.IdentityID,
		"email":          in.Email,
		"account_status": in.AccountStatus,
		"request_time":   in.RequestTime,
	}
}
