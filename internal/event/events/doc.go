// Package events defines the topics published on the sidebar event bus and
// the payload carried by each.
//
// Host topics mirror the editor's lifecycle notifications. Git topics are
// produced by the repository cache and the .git metadata watcher. App topics
// are synthesized inside the sidebar, for example after a file action.
package events
