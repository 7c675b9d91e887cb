// Package prompts embeds the stage and verification prompt templates.
package prompts

import _ "embed"

//go:embed stages/discovery.md.tmpl
var DiscoveryTemplate string

//go:embed stages/plan_review.md.tmpl
var PlanReviewTemplate string

//go:embed stages/implementation.md.tmpl
var ImplementationTemplate string

//go:embed stages/change_submission.md.tmpl
var ChangeSubmissionTemplate string

//go:embed stages/submission_review.md.tmpl
var SubmissionReviewTemplate string

//go:embed verification/triage.md.tmpl
var VerificationTemplate string
