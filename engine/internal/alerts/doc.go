// Package alerts evaluates threshold rules against live heart-rate updates
// and delivers webhook notifications to Slack, Teams or generic HTTP targets.
//
// A rule fires per session: the deduplication key is "<rule>:<session_id>".
// A firing alert resolves on the first update whose condition is false, and
// a rule that fired will not fire again for the same session until its
// cooldown has passed.
package alerts
