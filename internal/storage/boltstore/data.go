package boltstore

import (
	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/storage"
)

// dataStore is unbuffered: Data blobs can be large (spec.md's Non-goal on
// imposing a size limit notwithstanding, see SPEC_FULL.md §4.7) and aren't
// worth holding in the warm cache the way task/job metadata is.
type dataStore struct{ s *Store }

func (d dataStore) AddDriverData(c storage.Connection, driverID core.ID, data core.Data) error {
	data.OwnerDriverID = driverID
	b, err := marshalDataRecord(data)
	if err != nil {
		return core.NewStorageErr(core.StorageOther, "AddDriverData", "marshal: %v", err)
	}
	return txOf(c).Bucket(bucketData).Put(idKey(data.ID), b)
}

func (d dataStore) GetData(c storage.Connection, dataID core.ID) (core.Data, error) {
	var out core.Data
	raw := txOf(c).Bucket(bucketData).Get(idKey(dataID))
	if raw == nil {
		return out, core.NewStorageErr(core.StorageKeyNotFound, "GetData", "data %s not found", dataID)
	}
	if err := unmarshalDataRecord(raw, &out); err != nil {
		return out, core.NewStorageErr(core.StorageOther, "GetData", "unmarshal: %v", err)
	}
	return out, nil
}

func (d dataStore) RemoveData(c storage.Connection, dataID core.ID) error {
	for _, rec := range connOf(c).allTasks() {
		switch rec.Task.State {
		case core.TaskSucceeded, core.TaskFailedState, core.TaskCancelled:
			continue
		}
		for _, in := range rec.Task.Inputs {
			if in.Kind == core.InputDataRef && in.DataID == dataID {
				return core.NewStorageErr(core.StorageConstraintViolation, "RemoveData", "data %s still referenced by task %s", dataID, rec.Task.ID)
			}
		}
	}
	bkt := txOf(c).Bucket(bucketData)
	if bkt.Get(idKey(dataID)) == nil {
		return core.NewStorageErr(core.StorageKeyNotFound, "RemoveData", "data %s not found", dataID)
	}
	return bkt.Delete(idKey(dataID))
}

func (d dataStore) SetDataOutput(c storage.Connection, dataID core.ID, ownerTaskID core.ID) error {
	bkt := txOf(c).Bucket(bucketData)
	var rec core.Data
	raw := bkt.Get(idKey(dataID))
	if raw != nil {
		if err := unmarshalDataRecord(raw, &rec); err != nil {
			return core.NewStorageErr(core.StorageOther, "SetDataOutput", "unmarshal: %v", err)
		}
	} else {
		rec = core.Data{ID: dataID}
	}
	rec.OwnerDriverID = core.Nil
	b, err := marshalDataRecord(rec)
	if err != nil {
		return core.NewStorageErr(core.StorageOther, "SetDataOutput", "marshal: %v", err)
	}
	return bkt.Put(idKey(dataID), b)
}
