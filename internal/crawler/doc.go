// Package crawler implements the policy document crawling engine, including
// URL normalization, robots handling, the BFS page walker, the streaming PDF
// fetcher, admission control, and the session orchestrator.
package crawler
