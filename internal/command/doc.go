// Package command holds command tags and the reports of their executions.
package command
