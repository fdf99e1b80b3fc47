package scan

import (
	"fmt"
	"time"

	"github.com/ohler55/ojg/oj"

	"github.com/appstore-research/mascache/internal/store"
	"github.com/appstore-research/mascache/internal/ux"
)

// addApplicationData upserts one observed application record and its metadata
// snapshot for the (application, store, source, timestamp) key, driving the
// conflict protocol when the key already holds a different payload. The whole
// upsert is one atomic unit.
func (e *Engine) addApplicationData(rec map[string]any, source string, ts time.Time, st store.Store) error {
	appID, err := recordID(rec)
	if err != nil {
		return err
	}

	return e.Repo.Transact(func(tx *store.Tx) error {
		app, created, err := tx.GetOrCreateApplication(appID)
		if err != nil {
			return err
		}

		existing, err := tx.MetadataByKey(app.AdamID, st.Country, source, ts)
		if err != nil {
			return err
		}

		switch {
		case len(existing) > 1:
			return fmt.Errorf("%w: %d metadata rows for app=%d store=%s source=%s timestamp=%s",
				ErrInvariant, len(existing), app.AdamID, st.Country, source, ts)

		case len(existing) == 1:
			stored, err := existing[0].Doc()
			if err != nil {
				return err
			}
			if sameDocument(stored, rec) {
				break
			}

			decision, err := e.Resolver.Resolve(Conflict{
				AppID:     app.AdamID,
				Country:   st.Country,
				Source:    source,
				Timestamp: ts,
				Diff:      diffLines(canonicalLines(stored), canonicalLines(rec)),
			})
			if err != nil {
				return err
			}
			switch decision {
			case DecisionUpdate:
				if err := tx.UpdateMetadataData(existing[0].ID, []byte(oj.JSON(rec))); err != nil {
					return err
				}
			case DecisionKeep:
				if created {
					return fmt.Errorf("%w: keeping the stored payload would leave new application %d without metadata",
						ErrInvariant, app.AdamID)
				}
				return nil
			case DecisionAbort:
				return ErrAborted
			default:
				return fmt.Errorf("unhandled decision: %d", decision)
			}

		default:
			m := store.Metadata{
				ApplicationID: app.AdamID,
				Country:       st.Country,
				Source:        source,
				Timestamp:     ts,
				Data:          []byte(oj.JSON(rec)),
			}
			if err := tx.CreateMetadata(&m); err != nil {
				return err
			}
		}

		if created {
			ux.Successf(e.out(), "Added new application: %d", app.AdamID)
		}
		return nil
	})
}
