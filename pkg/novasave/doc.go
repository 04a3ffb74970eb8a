/*
Package novasave is the save engine of an interactive-fiction runtime.

It records which narrative nodes and dialogue lines a player has visited,
stores per-object restore snapshots at visited lines, keeps numbered
bookmarks pointing into that history, and migrates existing saves onto an
edited script instead of invalidating them.

# Overview

A save directory holds one block file, checkpoints.nsav, and the bookmark
slots. The block file contains:

  - the global save: the save identifier, author flags, and the offsets of
    everything below;
  - the node tree: one record per node occurrence on any path, linked by
    parent, first child and next brother offsets, each followed by the
    checkpoints stored in it;
  - the reached list: node histories, seen dialogue lines, taken branches
    and reached endings, appended as they happen.

# Basic Usage

	m, err := novasave.Open("saves/slot0")
	if err != nil {
	    log.Fatal(err)
	}
	defer m.Close()

	root, _ := m.Root()
	n, _ := m.AddOrGetNode(root, "intro", 0, savedata.HashVariables(vars))
	cpOff, _ := m.AppendCheckpoint(n, &savedata.Checkpoint{DialogueIndex: 0, Variables: vars})

	history := nodetree.NewNodeHistory("intro")
	_ = m.SetReached(history, 0, nil)

	// at a dialogue step boundary
	_ = m.UpdateGlobalSave()

	_ = m.SaveBookmark(novasave.QuickSaveBegin, &bookmark.Bookmark{
	    NodeOffset:       n.Offset,
	    CheckpointOffset: cpOff,
	    DialogueIndex:    0,
	})

# Durability

Mutations go to the block cache and the in-memory global save. The file is
consistent on disk only after UpdateGlobalSave; call it at dialogue-step
boundaries rather than after every mutation. Bookmarks are written
immediately.

# Script Upgrades

Pass the dialogue content hashes of the current script to SyncScript after
Open:

	report, err := m.SyncScript(ctx, script)

The first call records the script. Later calls diff each node against the
recorded hashes and upgrade the save: nodes whose dialogue changed are
copied with remapped ranges and checkpoints, removed nodes are unlinked with
their subtrees, and bookmarks are remapped or, when they pointed into
deleted content, deleted. Upgrade accepts a hand-built change map instead.

# Errors

Errors from Open that wrap ErrCorruptedStore, ErrVersionMismatch,
ErrRecordOverflow or ErrTypeDenied mean the global save is unreadable: offer
the player Reset. Bookmark errors come back as *BookmarkError and affect a
single slot. The errors subpackage maps any error onto the recovery to
offer.
*/
package novasave
