// Package batch submits pre-recorded audio for asynchronous transcription:
// upload, job creation, and polling to completion, with rate limiting and
// retry handling around the provider's HTTP API.
package batch
