/*
Package directory maps device employee codes onto directory identities.

PURPOSE:
  Terminals store whatever number was enrolled on them, sometimes truncated.
  The employee directory itself is an external collaborator; this package
  owns only the lookup rule the reconciliation engine depends on.

LOOKUP RULE (two steps, never an implicit OR):
  1. Exact employee_number match. One hit resolves; several is ambiguous.
  2. Only when step 1 finds nothing and prefix matching is enabled:
     employee numbers starting with the code. Exactly one hit resolves;
     zero or several leave the code unresolved.

  Unresolved codes are reported, never guessed: the engine leaves the
  punches unprocessed so they are retried once the directory is fixed.

SEE ALSO:
  - reconcile/engine.go: Resolves one code per group
  - store/sqlite/sqlite.go: Directory queries
*/
package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/warp/punchclock/attendance"
)

// Directory is the consumed employee directory.
type Directory interface {
	FindEmployeesByNumber(ctx context.Context, tenantID, number string) ([]attendance.Employee, error)
	FindEmployeesByNumberPrefix(ctx context.Context, tenantID, prefix string) ([]attendance.Employee, error)
	ListActiveEmployees(ctx context.Context, tenantID string) ([]attendance.Employee, error)
}

const (
	reasonNoMatch   = "no matching employee"
	reasonAmbiguous = "ambiguous match"
)

// Resolver applies the lookup rule. The zero value has prefix matching off.
type Resolver struct {
	Directory   Directory
	PrefixMatch bool
}

func NewResolver(dir Directory, prefixMatch bool) *Resolver {
	return &Resolver{Directory: dir, PrefixMatch: prefixMatch}
}

// ResolveByCode returns the employee for a device code, or an
// *attendance.UnresolvedCodeError.
func (r *Resolver) ResolveByCode(ctx context.Context, tenantID, code string) (attendance.EmployeeID, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", &attendance.UnresolvedCodeError{TenantID: tenantID, Code: code, Reason: "empty code"}
	}

	exact, err := r.Directory.FindEmployeesByNumber(ctx, tenantID, code)
	if err != nil {
		return "", fmt.Errorf("directory lookup %q: %w", code, err)
	}
	exact = activeOnly(exact)
	switch len(exact) {
	case 1:
		return exact[0].ID, nil
	case 0:
	default:
		return "", &attendance.UnresolvedCodeError{TenantID: tenantID, Code: code, Reason: reasonAmbiguous}
	}

	if !r.PrefixMatch {
		return "", &attendance.UnresolvedCodeError{TenantID: tenantID, Code: code, Reason: reasonNoMatch}
	}

	prefixed, err := r.Directory.FindEmployeesByNumberPrefix(ctx, tenantID, code)
	if err != nil {
		return "", fmt.Errorf("directory prefix lookup %q: %w", code, err)
	}
	prefixed = activeOnly(prefixed)
	switch len(prefixed) {
	case 1:
		return prefixed[0].ID, nil
	case 0:
		return "", &attendance.UnresolvedCodeError{TenantID: tenantID, Code: code, Reason: reasonNoMatch}
	default:
		return "", &attendance.UnresolvedCodeError{TenantID: tenantID, Code: code, Reason: reasonAmbiguous + " on prefix"}
	}
}

func activeOnly(emps []attendance.Employee) []attendance.Employee {
	out := emps[:0:0]
	for _, e := range emps {
		if e.IsActive {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// RUN CACHE
// =============================================================================

// Cache memoizes lookups for the duration of one reconciliation run. Groups
// of the same employee on different days hit the directory once.
type Cache struct {
	resolver *Resolver
	tenantID string

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	id  attendance.EmployeeID
	err error
}

func (r *Resolver) ForRun(tenantID string) *Cache {
	return &Cache{resolver: r, tenantID: tenantID, entries: make(map[string]cacheEntry)}
}

// Resolve is safe for concurrent use. Only resolution outcomes are cached,
// directory failures are retried.
func (c *Cache) Resolve(ctx context.Context, code string) (attendance.EmployeeID, error) {
	c.mu.Lock()
	e, ok := c.entries[code]
	c.mu.Unlock()
	if ok {
		return e.id, e.err
	}

	id, err := c.resolver.ResolveByCode(ctx, c.tenantID, code)
	if err != nil && !attendance.IsGroupError(err) {
		return "", err
	}

	c.mu.Lock()
	c.entries[code] = cacheEntry{id: id, err: err}
	c.mu.Unlock()
	return id, err
}
