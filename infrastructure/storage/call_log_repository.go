package storage

import (
	"care-signal/domain"
	"care-signal/errors"
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	CallLogPrefix      = "calllog:"
	patientIndexPrefix = "calllog_patient:"
)

// CallLogRepository stores call logs in BadgerDB, one protobuf Struct per
// session under "calllog:{id}". A second key
// "calllog_patient:{escaped patient}:{start_unix_nano}:{id}" lists a patient's calls
// in chronological order.
type CallLogRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewCallLogRepository(db *badger.DB, log *slog.Logger) *CallLogRepository {
	return &CallLogRepository{db: db, log: log}
}

func (r *CallLogRepository) CreateCallLog(ctx context.Context, callLog domain.CallLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bytes, err := MarshalCallLog(callLog)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(callLogKey(callLog.ID), bytes); err != nil {
			return err
		}
		return txn.Set(patientIndexKey(callLog), nil)
	})
}

// UpdateCallLog applies the non nil fields of update to the stored log.
func (r *CallLogRepository) UpdateCallLog(ctx context.Context, id string, update domain.CallLogUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		callLog, err := getCallLog(txn, id)
		if err != nil {
			return err
		}
		callLog.Apply(update)
		bytes, err := MarshalCallLog(callLog)
		if err != nil {
			return err
		}
		return txn.Set(callLogKey(id), bytes)
	})
}

func (r *CallLogRepository) GetCallLog(id string) (domain.CallLog, error) {
	var callLog domain.CallLog
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		callLog, err = getCallLog(txn, id)
		return err
	})
	return callLog, err
}

// ListCallLogs returns the most recent logs first. An empty patientID lists
// every patient.
func (r *CallLogRepository) ListCallLogs(patientID string, limit int) ([]domain.CallLog, error) {
	if patientID == "" {
		return r.listAll(limit)
	}

	var res []domain.CallLog
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("%s%s:", patientIndexPrefix, escapeKeyPart(patientID)))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(res) == limit {
				break
			}
			key := string(it.Item().Key())
			id := key[strings.LastIndex(key, ":")+1:]
			callLog, err := getCallLog(txn, id)
			if err != nil {
				r.log.Warn("Dangling call log index", "key", key, "error", err)
				continue
			}
			res = append(res, callLog)
		}
		return nil
	})
	return res, err
}

func (r *CallLogRepository) listAll(limit int) ([]domain.CallLog, error) {
	var res []domain.CallLog
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(CallLogPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				callLog, err := UnmarshalCallLog(val)
				if err != nil {
					return err
				}
				res = append(res, callLog)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartTime.After(res[j].StartTime) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func getCallLog(txn *badger.Txn, id string) (domain.CallLog, error) {
	item, err := txn.Get(callLogKey(id))
	if stdErrors.Is(err, badger.ErrKeyNotFound) {
		return domain.CallLog{}, fmt.Errorf("%w: %s", errors.ErrCallLogNotFound, id)
	}
	if err != nil {
		return domain.CallLog{}, err
	}
	var callLog domain.CallLog
	err = item.Value(func(val []byte) error {
		callLog, err = UnmarshalCallLog(val)
		return err
	})
	return callLog, err
}

func callLogKey(id string) []byte {
	return []byte(CallLogPrefix + id)
}

func patientIndexKey(callLog domain.CallLog) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s",
		patientIndexPrefix, escapeKeyPart(callLog.PatientID), callLog.StartTime.UnixNano(), callLog.ID))
}

// escapeKeyPart keeps ':' out of a key segment so one id can never be the
// prefix of another id's segment.
func escapeKeyPart(id string) string {
	return url.QueryEscape(id)
}

// MarshalCallLog encodes a call log as a protobuf Struct.
func MarshalCallLog(callLog domain.CallLog) ([]byte, error) {
	fields := map[string]any{
		"id":           callLog.ID,
		"caretaker_id": callLog.CaretakerID,
		"patient_id":   callLog.PatientID,
		"start_time":   callLog.StartTime.UTC().Format(time.RFC3339Nano),
		"status":       string(callLog.Status),
	}
	if callLog.EndTime != nil {
		fields["end_time"] = callLog.EndTime.UTC().Format(time.RFC3339Nano)
	}
	if callLog.Duration != nil {
		fields["duration_ms"] = float64(callLog.Duration.Milliseconds())
	}
	if callLog.FailureReason != "" {
		fields["failure_reason"] = callLog.FailureReason
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func UnmarshalCallLog(val []byte) (domain.CallLog, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(val, &s); err != nil {
		return domain.CallLog{}, err
	}
	f := s.GetFields()
	callLog := domain.CallLog{
		ID:            f["id"].GetStringValue(),
		CaretakerID:   f["caretaker_id"].GetStringValue(),
		PatientID:     f["patient_id"].GetStringValue(),
		Status:        domain.CallLogStatus(f["status"].GetStringValue()),
		FailureReason: f["failure_reason"].GetStringValue(),
	}
	start, err := time.Parse(time.RFC3339Nano, f["start_time"].GetStringValue())
	if err != nil {
		return domain.CallLog{}, fmt.Errorf("start_time: %w", err)
	}
	callLog.StartTime = start
	if v, ok := f["end_time"]; ok {
		end, err := time.Parse(time.RFC3339Nano, v.GetStringValue())
		if err != nil {
			return domain.CallLog{}, fmt.Errorf("end_time: %w", err)
		}
		callLog.EndTime = &end
	}
	if v, ok := f["duration_ms"]; ok {
		d := time.Duration(v.GetNumberValue()) * time.Millisecond
		callLog.Duration = &d
	}
	return callLog, nil
}
