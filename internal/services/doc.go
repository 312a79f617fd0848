// Package services implements the offline execution engine: the Offline
// Manager (job lifecycle), the Offline Messaging Service (notes, coworker
// messages and drafts), the Conflict Resolver and the Storage Manager.
//
// Every command writes its local record and the matching sync queue entry in
// one transaction, so a crash never leaves a job changed without the entry
// that replays the change, or the other way around. The server is reached
// only through the collaborator interfaces declared in collaborators.go.
package services
