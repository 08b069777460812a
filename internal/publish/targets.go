package publish

import (
	"strings"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/models"
)

// ExpandTargets turns a user's stored connections and pages into publish jobs,
// following each platform's target policy. Content is left for the caller to fill.
func (o *Orchestrator) ExpandTargets(userID string, rows []models.PublishTarget) []Job {
	jobs := make([]Job, 0, len(rows))
	seenConn := map[string]bool{}
	for _, row := range rows {
		pub, ok := o.registry.Get(row.Platform)
		if !ok {
			continue
		}
		platform := strings.ToLower(row.Platform)
		switch pub.TargetPolicy() {
		case credentials.PageOnly:
			if row.PageID == "" {
				continue
			}
			jobs = append(jobs, pageJob(platform, userID, row))
		case credentials.ConnectionOnly:
			if seenConn[row.ConnectionID] {
				continue
			}
			seenConn[row.ConnectionID] = true
			jobs = append(jobs, Job{Platform: platform, Target: credentials.Target{ConnectionID: row.ConnectionID, UserID: userID}})
		default:
			if row.PageID != "" {
				jobs = append(jobs, pageJob(platform, userID, row))
				continue
			}
			jobs = append(jobs, Job{Platform: platform, Target: credentials.Target{ConnectionID: row.ConnectionID, UserID: userID}})
		}
	}
	return jobs
}

func pageJob(platform, userID string, row models.PublishTarget) Job {
	return Job{
		Platform: platform,
		Target:   credentials.Target{PageID: row.PageID, ConnectionID: row.ConnectionID, UserID: userID},
		PageName: models.Deref(row.PageName),
	}
}
