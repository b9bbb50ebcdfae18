// Package report assembles the run report: a markdown document built from
// the session's findings, converted to HTML with goldmark. Both forms are
// written as session artifacts.
package report
