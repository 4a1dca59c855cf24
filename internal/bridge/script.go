package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

// ScriptParams parameterises a capture script.
type ScriptParams struct {
	Index    int
	Width    int
	Height   int
	FPS      int
	Quality  int
	Warmup   int
	TempFile string
	Vendor   string
	Product  string
}

// pyString renders s as a Python string literal. JSON string escapes are a
// subset of Python's.
func pyString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var funcs = template.FuncMap{"py": pyString}

var liveTmpl = template.Must(template.New("live").Funcs(funcs).Parse(`
import base64
import os
import sys
import time

import cv2

path = {{py .TempFile}}
try:
    cap = cv2.VideoCapture({{.Index}})
    if not cap.isOpened():
        print('ERROR:Cannot open camera')
        sys.exit(1)

    cap.set(cv2.CAP_PROP_FRAME_WIDTH, {{.Width}})
    cap.set(cv2.CAP_PROP_FRAME_HEIGHT, {{.Height}})
    cap.set(cv2.CAP_PROP_FPS, {{.FPS}})
    cap.set(cv2.CAP_PROP_BUFFERSIZE, 1)

    for _ in range({{.Warmup}}):
        cap.read()

    ret, frame = cap.read()
    cap.release()
    if not ret:
        print('ERROR:Cannot capture frame')
        sys.exit(1)

    cv2.imwrite(path, frame, [cv2.IMWRITE_JPEG_QUALITY, {{.Quality}}])
    with open(path, 'rb') as f:
        data = f.read()
    os.remove(path)

    print('SUCCESS')
    print(base64.b64encode(data).decode('ascii'))
    print(int(time.time() * 1000))
except Exception as e:
    try:
        os.remove(path)
    except OSError:
        pass
    print('ERROR:' + str(e).replace('\n', ' '))
`))

var stillTmpl = template.Must(template.New("still").Funcs(funcs).Parse(`
import base64
import json
import os
import sys

import cv2

path = {{py .TempFile}}
try:
    cap = cv2.VideoCapture({{.Index}})
    if not cap.isOpened():
        print('ERROR:Cannot open camera')
        sys.exit(1)

    cap.set(cv2.CAP_PROP_FRAME_WIDTH, {{.Width}})
    cap.set(cv2.CAP_PROP_FRAME_HEIGHT, {{.Height}})

    for _ in range({{.Warmup}}):
        cap.read()

    ret, frame = cap.read()
    cap.release()
    if not ret:
        print('ERROR:Cannot capture frame')
        sys.exit(1)

    cv2.imwrite(path, frame, [cv2.IMWRITE_JPEG_QUALITY, {{.Quality}}])
    with open(path, 'rb') as f:
        data = f.read()
    os.remove(path)

    print('SUCCESS:' + json.dumps({'base64': base64.b64encode(data).decode('ascii')}))
except Exception as e:
    try:
        os.remove(path)
    except OSError:
        pass
    print('ERROR:' + str(e).replace('\n', ' '))
`))

var probeTmpl = template.Must(template.New("probe").Funcs(funcs).Parse(`
import subprocess

try:
    result = subprocess.run(['lsusb'], capture_output=True, text=True, timeout=5)
    if result.returncode == 0 and {{py (printf "%s:%s" .Vendor .Product)}} in result.stdout:
        print('CONNECTED:' + {{py (printf "%s:%s" .Vendor .Product)}})
    else:
        print('DISCONNECTED')
except subprocess.TimeoutExpired:
    print('ERROR:lsusb timeout')
except Exception as e:
    print('ERROR:' + str(e).replace('\n', ' '))
`))

const selfTestScript = `print('Hello from Python!')`

func render(t *template.Template, p ScriptParams) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render %s script: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// LiveScript renders the low-latency capture script.
func LiveScript(p ScriptParams) (string, error) { return render(liveTmpl, p) }

// StillScript renders the high-quality capture script.
func StillScript(p ScriptParams) (string, error) { return render(stillTmpl, p) }

// ProbeScript renders the USB presence check.
func ProbeScript(p ScriptParams) (string, error) { return render(probeTmpl, p) }
