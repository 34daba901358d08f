// Package ingest writes uploaded images into a region's images directory and
// records one ledger row per stored file.
//
// Every stored name is a fresh random token, an underscore, and the sanitized
// original base name, so concurrent uploads of identically named files never
// collide and no directory lock is needed.
//
// Direct and folder uploads stream each payload to disk inside one ledger
// batch. Archive uploads are saved next to the images directory, unpacked into
// a per-call extraction tree beneath it, and every recognised image is moved
// flat into the images root. Non-image entries stay where extraction left
// them. Directories emptied by the moves are removed bottom-up.
//
// Files written before a failure are not removed: the ledger batch rolls back
// but the filesystem is left as is.
package ingest
