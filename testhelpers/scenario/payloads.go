package scenario

import "fmt"

type object = map[string]any

func gitlabProject(webURL, path string) object {
	return object{"web_url": webURL, "path_with_namespace": path}
}

// MergeRequestHook describes a GitLab merge request webhook for a merge
// request from the fork into the source repository
type MergeRequestHook struct {
	Action       string
	Number       int
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
	HeadSHA      string
	OldRevision  string
}

// Payload returns the webhook body
func (h MergeRequestHook) Payload() object {
	attrs := object{
		"iid":           h.Number,
		"title":         h.Title,
		"description":   h.Description,
		"url":           fmt.Sprintf("%s/-/merge_requests/%d", SourceURL, h.Number),
		"action":        h.Action,
		"source_branch": h.SourceBranch,
		"target_branch": h.TargetBranch,
		"source":        gitlabProject(ForkURL, "contributor/bash"),
		"target":        gitlabProject(SourceURL, "redhat/centos-stream/src/bash"),
		"last_commit":   object{"id": h.HeadSHA},
	}
	if h.OldRevision != "" {
		attrs["oldrev"] = h.OldRevision
	}
	return object{
		"object_kind":       "merge_request",
		"project":           gitlabProject(SourceURL, "redhat/centos-stream/src/bash"),
		"object_attributes": attrs,
	}
}

// PipelineHook returns a GitLab pipeline webhook for distribution merge
// request number
func PipelineHook(number int, status string) object {
	return object{
		"object_kind": "pipeline",
		"object_attributes": object{
			"id":              1000 + number,
			"source":          "merge_request_event",
			"status":          status,
			"detailed_status": status,
		},
		"merge_request": object{
			"iid": number,
			"url": fmt.Sprintf("%s/-/merge_requests/%d", DistURL, number),
		},
		"project": gitlabProject(DistURL, "redhat/centos-stream/rpms/bash"),
	}
}

// DistPushHook returns a GitLab push webhook for a distribution branch
func DistPushHook(branch, sha string) object {
	return object{
		"object_kind":  "push",
		"ref":          "refs/heads/" + branch,
		"after":        sha,
		"checkout_sha": sha,
		"project":      gitlabProject(DistURL, "redhat/centos-stream/rpms/bash"),
	}
}
