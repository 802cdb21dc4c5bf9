// Package crawler holds the shared domain model for the docpress pipeline:
// jobs, pages, content blocks, and the ports implemented by the fetcher,
// storage, queue, and policy subsystems.
package crawler
