// Package configresolver resolves runtime parameters and renders them into
// the onboarding document and its payloads.
//
// Runtime parameters are resolved once, in declaration order, through a
// location resolver (files, HTTP endpoints, cloud metadata and secret
// services). The resulting name to value mapping is then substituted into
// templates.
//
// # Placeholders
//
// Two placeholder forms are recognised, with optional whitespace inside the
// braces:
//
//   - {{ NAME }}    the value of parameter NAME
//   - {{{ NAME }}}  the same value, kept for documents written for mustache
//     renderers where triple braces disable escaping
//
// Substitution is a single pass: a substituted value is never scanned for
// further placeholders. A placeholder naming an unknown parameter fails the
// render with interfaces.ErrUndefinedVariable, listing every missing name.
//
// # Parameter post-processing
//
// After loading, a parameter value may be narrowed with a JMESPath query
// (for JSON responses) and then transformed with an ipcalc operation
// (for CIDR values, e.g. "10.0.1.4/24" with ipcalc "first" yields "10.0.1.1").
//
// # Usage Example
//
//	params, err := configresolver.ResolveParameters(ctx, logger, cfg.RuntimeParameters, res, policy)
//	if err != nil {
//		return err
//	}
//	rendered, err := configresolver.Render(string(document), params)
package configresolver
