package app

import "context"

const (
	readyStatusReady    = "ready"
	readyStatusDegraded = "degraded"
	readyStatusNotReady = "not_ready"

	checkOK       = "ok"
	checkError    = "error"
	checkDegraded = "degraded"
)

// ReadinessCheck is the outcome for one dependency. A failed required check
// makes the service not ready; any other failure only degrades it.
type ReadinessCheck struct {
	Status   string `json:"status"`
	Required bool   `json:"required"`
	Backend  string `json:"backend,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Readiness struct {
	Status string                    `json:"status"`
	Checks map[string]ReadinessCheck `json:"checks"`
}

// Ready is false only when a required dependency failed.
func (r Readiness) Ready() bool {
	return r.Status != readyStatusNotReady
}

// Readiness checks the database, the repository directory, the definition
// cache and the search engine.
func (s *Service) Readiness(ctx context.Context) Readiness {
	checks := map[string]ReadinessCheck{
		"database": checkResult(true, "postgres", s.store.Ping(ctx)),
		"repos":    checkResult(true, "git", s.git.CheckWritable()),
		"cache":    checkResult(false, s.cache.Backend(), s.cache.Ping(ctx)),
	}

	backend, healthy := s.search.Backend()
	searchCheck := ReadinessCheck{Status: checkOK, Backend: backend}
	if !healthy {
		searchCheck.Status = checkDegraded
		searchCheck.Error = "search engine unreachable, answering from the database"
	}
	checks["search"] = searchCheck

	status := readyStatusReady
	for _, check := range checks {
		switch {
		case check.Required && check.Status == checkError:
			status = readyStatusNotReady
		case check.Status != checkOK && status == readyStatusReady:
			status = readyStatusDegraded
		}
	}
	return Readiness{Status: status, Checks: checks}
}

func checkResult(required bool, backend string, err error) ReadinessCheck {
	check := ReadinessCheck{Status: checkOK, Required: required, Backend: backend}
	if err != nil {
		check.Status = checkError
		check.Error = err.Error()
	}
	return check
}
