// Package extract turns a rendered chapter page into plain reading text.
//
// Extraction is pure: the same page source always yields the same Item. The
// content root is stripped of advertising and hidden subtrees, markup is
// reduced to paragraphs separated by blank lines, and lines that carry no
// readable text are dropped.
package extract
