package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcode-service/config"
	"transcode-service/constant"
	"transcode-service/dto"
	"transcode-service/pkg/cache"
	"transcode-service/repository"
)

// recordingDispatcher captures dispatched messages; tests drive Execute
// themselves so queued jobs stay queued until the test says otherwise.
type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []dto.JobMessage
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg dto.JobMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

type fixture struct {
	svc      Service
	repo     *repository.MemoryRepo
	dispatch *recordingDispatcher
	cfg      *config.Config
}

func newFixture(t *testing.T, encoderScript string) *fixture {
	t.Helper()
	cfg := &config.Config{
		Transcode: config.Transcode{
			MediaRoot:      t.TempDir(),
			MediaBaseUrl:   "http://cdn.local/media/videos",
			SegmentSeconds: 10,
		},
	}
	repo := repository.NewMemoryRepo()
	dispatch := &recordingDispatcher{}
	encoder := NewFFmpegEncoder(writeStubEncoder(t, encoderScript), cfg.Transcode.SegmentSeconds)
	svc := NewService(repo, dispatch, encoder, cache.NewNop(), nil, cfg)
	return &fixture{svc: svc, repo: repo, dispatch: dispatch, cfg: cfg}
}

func (f *fixture) createMedia(t *testing.T, sourcePath string) uuid.UUID {
	t.Helper()
	item, err := f.svc.CreateMedia(context.Background(), dto.CreateMediaRequest{
		Name:       "clip",
		SourcePath: sourcePath,
	})
	require.NoError(t, err)
	return item.Id
}

func TestCreateMediaRejectsNonMp4(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	_, err := f.svc.CreateMedia(context.Background(), dto.CreateMediaRequest{
		Name:       "clip",
		SourcePath: "/tmp/video.avi",
	})
	require.ErrorIs(t, err, ErrNotMp4)
}

func TestGetStatusNeverSubmitted(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	mediaId := f.createMedia(t, newSourceFile(t))

	status, err := f.svc.GetStatus(context.Background(), mediaId)
	require.NoError(t, err)
	assert.Equal(t, "none", status.State)
	assert.Empty(t, status.ManifestUrl)
	assert.Empty(t, status.Error)
}

func TestGetStatusUnknownMedia(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	_, err := f.svc.GetStatus(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrMediaNotFound)
}

func TestSubmitTwiceYieldsOneActiveJob(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)

	secondId, err := f.svc.Submit(ctx, mediaId)
	require.ErrorIs(t, err, ErrJobAlreadyActive)
	assert.Equal(t, jobId, secondId, "conflict must point at the existing job")

	assert.Equal(t, 1, f.dispatch.count())
	active, err := f.repo.FindActiveJobByMediaId(ctx, mediaId)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, jobId, active.Id)
}

func TestSubmitAlreadyConverted(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()
	require.NoError(t, f.repo.MarkMediaItemConverted(ctx, mediaId, "http://cdn.local/media/videos/hls/x/output.m3u8"))

	_, err := f.svc.Submit(ctx, mediaId)
	require.ErrorIs(t, err, ErrAlreadyConverted)

	latest, err := f.repo.FindLatestJobByMediaId(ctx, mediaId)
	require.NoError(t, err)
	assert.Nil(t, latest, "a rejected submission must not create a job row")
}

func TestSubmitUnknownMedia(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	_, err := f.svc.Submit(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrMediaNotFound)
}

func TestExecuteSourceMissing(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	missing := filepath.Join(t.TempDir(), "gone.mp4")
	mediaId := f.createMedia(t, missing)
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)

	require.NoError(t, f.svc.Execute(ctx, dto.JobMessage{JobId: jobId, MediaItemId: mediaId}))

	job, err := f.repo.FindJobById(ctx, jobId)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "source file missing")

	outputDir := filepath.Join(f.cfg.Transcode.MediaRoot, "videos", "hls", mediaId.String())
	_, statErr := os.Stat(outputDir)
	assert.True(t, os.IsNotExist(statErr))

	status, err := f.svc.GetStatus(ctx, mediaId)
	require.NoError(t, err)
	assert.Equal(t, string(constant.JobStatusFailed), status.State)
	assert.Contains(t, status.Error, "source file missing")
}

func TestExecuteEndToEnd(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)
	require.NoError(t, f.svc.Execute(ctx, dto.JobMessage{JobId: jobId, MediaItemId: mediaId}))

	job, err := f.repo.FindJobById(ctx, jobId)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusSucceeded, job.Status)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)

	item, err := f.repo.FindMediaItemById(ctx, mediaId)
	require.NoError(t, err)
	assert.True(t, item.IsConverted)
	wantUrl := fmt.Sprintf("http://cdn.local/media/videos/hls/%s/output.m3u8", mediaId)
	assert.Equal(t, wantUrl, item.HlsPlaylist)

	assert.FileExists(t, filepath.Join(f.cfg.Transcode.MediaRoot, "videos", "hls", mediaId.String(), PlaylistName))

	status, err := f.svc.GetStatus(ctx, mediaId)
	require.NoError(t, err)
	assert.Equal(t, string(constant.JobStatusSucceeded), status.State)
	assert.Equal(t, wantUrl, status.ManifestUrl)

	// Converted flag now rejects resubmission.
	_, err = f.svc.Submit(ctx, mediaId)
	require.ErrorIs(t, err, ErrAlreadyConverted)
}

func TestExecuteRedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)
	msg := dto.JobMessage{JobId: jobId, MediaItemId: mediaId}
	require.NoError(t, f.svc.Execute(ctx, msg))
	require.NoError(t, f.svc.Execute(ctx, msg))

	job, err := f.repo.FindJobById(ctx, jobId)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusSucceeded, job.Status)
}

func TestExecuteRunningJobReportsEta(t *testing.T) {
	script := `
for a in "$@"; do out="$a"; done
echo "frame=10 time=00:00:07.00 bitrate=1k" >&2
sleep 1
printf '#EXTM3U\n#EXT-X-ENDLIST\n' > "$out"
`
	f := newFixture(t, script)
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.svc.Execute(ctx, dto.JobMessage{JobId: jobId, MediaItemId: mediaId})
	}()

	require.Eventually(t, func() bool {
		status, err := f.svc.GetStatus(ctx, mediaId)
		if err != nil {
			return false
		}
		return status.State == string(constant.JobStatusRunning) && status.EtaSeconds != nil && *status.EtaSeconds == 7
	}, 3*time.Second, 20*time.Millisecond, "running status must surface the extracted ETA")

	<-done
	status, err := f.svc.GetStatus(ctx, mediaId)
	require.NoError(t, err)
	assert.Equal(t, string(constant.JobStatusSucceeded), status.State)
}

func TestConcurrentDistinctItems(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	ctx := context.Background()

	const n = 4
	mediaIds := make([]uuid.UUID, n)
	msgs := make([]dto.JobMessage, n)
	for i := range mediaIds {
		mediaIds[i] = f.createMedia(t, newSourceFile(t))
		jobId, err := f.svc.Submit(ctx, mediaIds[i])
		require.NoError(t, err)
		msgs[i] = dto.JobMessage{JobId: jobId, MediaItemId: mediaIds[i]}
	}

	var wg sync.WaitGroup
	for i := range msgs {
		wg.Add(1)
		go func(msg dto.JobMessage) {
			defer wg.Done()
			_ = f.svc.Execute(ctx, msg)
		}(msgs[i])
	}
	wg.Wait()

	for _, mediaId := range mediaIds {
		item, err := f.repo.FindMediaItemById(ctx, mediaId)
		require.NoError(t, err)
		assert.True(t, item.IsConverted)
		assert.Contains(t, item.HlsPlaylist, mediaId.String(), "no job may write another item's manifest path")
		assert.FileExists(t, filepath.Join(f.cfg.Transcode.MediaRoot, "videos", "hls", mediaId.String(), PlaylistName))
	}
}

func TestCancelRunningJob(t *testing.T) {
	f := newFixture(t, "exec sleep 30")
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.svc.Execute(ctx, dto.JobMessage{JobId: jobId, MediaItemId: mediaId})
	}()

	require.Eventually(t, func() bool {
		job, err := f.repo.FindJobById(ctx, jobId)
		return err == nil && job.Status == constant.JobStatusRunning
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, f.svc.Cancel(ctx, jobId))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the running job")
	}

	job, err := f.repo.FindJobById(ctx, jobId)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "cancelled")
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, jobId))

	job, err := f.repo.FindJobById(ctx, jobId)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, job.Status)

	// A late delivery of the cancelled job is skipped.
	require.NoError(t, f.svc.Execute(ctx, dto.JobMessage{JobId: jobId, MediaItemId: mediaId}))
	job, err = f.repo.FindJobById(ctx, jobId)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, job.Status)
}

func TestCancelTerminalJob(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)
	require.NoError(t, f.svc.Execute(ctx, dto.JobMessage{JobId: jobId, MediaItemId: mediaId}))

	err = f.svc.Cancel(ctx, jobId)
	require.ErrorIs(t, err, ErrJobNotActive)
}

func TestRequeueStale(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)
	// Simulate a crashed worker: the job went RUNNING and then nothing.
	ok, err := f.repo.TransitionJobStatus(ctx, jobId, constant.JobStatusQueued, constant.JobStatusRunning, nil)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(10 * time.Millisecond)

	requeued, err := f.svc.RequeueStale(ctx, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Equal(t, mediaId, requeued[0].MediaItemId)
	assert.Equal(t, jobId, requeued[0].StaleJobId)
	assert.NotEqual(t, jobId, requeued[0].NewJobId)

	stale, err := f.repo.FindJobById(ctx, jobId)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, stale.Status)
	require.NotNil(t, stale.ErrorMessage)
	assert.Contains(t, *stale.ErrorMessage, "stalled")

	fresh, err := f.repo.FindJobById(ctx, requeued[0].NewJobId)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusQueued, fresh.Status)
}

func TestRequeueStaleIgnoresFreshRunningJobs(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)
	ok, err := f.repo.TransitionJobStatus(ctx, jobId, constant.JobStatusQueued, constant.JobStatusRunning, nil)
	require.NoError(t, err)
	require.True(t, ok)

	requeued, err := f.svc.RequeueStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, requeued)
}

func TestRequeueStaleSupersedesLiveJob(t *testing.T) {
	// The encoder stalls long enough for the operator sweep to fire, then
	// finishes. The superseded run must not flip the FAILED row back to
	// SUCCEEDED or record its output on the media item.
	script := `
for a in "$@"; do out="$a"; done
sleep 1
printf '#EXTM3U\n#EXT-X-ENDLIST\n' > "$out"
`
	f := newFixture(t, script)
	mediaId := f.createMedia(t, newSourceFile(t))
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.svc.Execute(ctx, dto.JobMessage{JobId: jobId, MediaItemId: mediaId})
	}()

	require.Eventually(t, func() bool {
		job, err := f.repo.FindJobById(ctx, jobId)
		return err == nil && job.Status == constant.JobStatusRunning
	}, 3*time.Second, 20*time.Millisecond)

	requeued, err := f.svc.RequeueStale(ctx, time.Nanosecond)
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Equal(t, jobId, requeued[0].StaleJobId)

	<-done

	stale, err := f.repo.FindJobById(ctx, jobId)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, stale.Status, "terminal FAILED row must stay FAILED")

	item, err := f.repo.FindMediaItemById(ctx, mediaId)
	require.NoError(t, err)
	assert.False(t, item.IsConverted, "superseded run must not record its output")
	assert.Empty(t, item.HlsPlaylist)

	fresh, err := f.repo.FindJobById(ctx, requeued[0].NewJobId)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusQueued, fresh.Status)
}

func TestCancelUnknownJob(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	err := f.svc.Cancel(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestSubmitAgainAfterFailure(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	missing := filepath.Join(t.TempDir(), "gone.mp4")
	mediaId := f.createMedia(t, missing)
	ctx := context.Background()

	jobId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)
	require.NoError(t, f.svc.Execute(ctx, dto.JobMessage{JobId: jobId, MediaItemId: mediaId}))

	// A failed job no longer blocks resubmission; a new row is created.
	secondId, err := f.svc.Submit(ctx, mediaId)
	require.NoError(t, err)
	assert.NotEqual(t, jobId, secondId)
}

func TestDeleteMediaRemovesOwnedArtifactsOnly(t *testing.T) {
	f := newFixture(t, stubEncodeScript)
	ctx := context.Background()

	source := newSourceFile(t)
	mediaId := f.createMedia(t, source)
	otherId := f.createMedia(t, newSourceFile(t))

	for _, id := range []uuid.UUID{mediaId, otherId} {
		jobId, err := f.svc.Submit(ctx, id)
		require.NoError(t, err)
		require.NoError(t, f.svc.Execute(ctx, dto.JobMessage{JobId: jobId, MediaItemId: id}))
	}

	require.NoError(t, f.svc.DeleteMedia(ctx, mediaId))

	_, err := os.Stat(source)
	assert.True(t, os.IsNotExist(err), "source file must be removed")
	_, err = os.Stat(filepath.Join(f.cfg.Transcode.MediaRoot, "videos", "hls", mediaId.String()))
	assert.True(t, os.IsNotExist(err), "hls artifacts must be removed")

	// The other item's artifacts are untouched.
	assert.FileExists(t, filepath.Join(f.cfg.Transcode.MediaRoot, "videos", "hls", otherId.String(), PlaylistName))

	_, err = f.svc.GetStatus(ctx, mediaId)
	require.ErrorIs(t, err, ErrMediaNotFound)
}
