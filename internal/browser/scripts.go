package browser

// readySignalJS is injected into every report page. It waits for MathJax to
// finish typesetting, then logs the ready-for-export signal to the console.
const readySignalJS = `
setTimeout(function() {
    const SIGNAL_PAGE_READY_FOR_EXPORT = "x-quiz-archiver-page-ready-for-export";
    const SIGNAL_MATHJAX_FOUND = "x-quiz-archiver-mathjax-found";
    const SIGNAL_MATHJAX_NOT_FOUND = "x-quiz-archiver-mathjax-not-found";
    const SIGNAL_MATHJAX_NO_FORMULAS_ON_PAGE = "x-quiz-archiver-mathjax-no-formulas-on-page";

    if (typeof window.MathJax !== 'undefined') {
        console.log(SIGNAL_MATHJAX_FOUND);

        if (document.getElementsByClassName('filter_mathjaxloader_equation').length == 0) {
            console.log(SIGNAL_MATHJAX_NO_FORMULAS_ON_PAGE);
            console.log(SIGNAL_PAGE_READY_FOR_EXPORT);
            return;
        }

        window.MathJax.Hub.Queue(function () {
            console.log(SIGNAL_PAGE_READY_FOR_EXPORT);
        });
        window.MathJax.Hub.processSectionDelay = 0;
    } else {
        console.log(SIGNAL_MATHJAX_NOT_FOUND);
        console.log(SIGNAL_PAGE_READY_FOR_EXPORT);
    }
}, 1000);
`

// demoWatermarkJS overlays a demo mode watermark on the page before export.
const demoWatermarkJS = `
(function() {
    const watermark = document.createElement('div');
    watermark.textContent = 'DEMO MODE';
    watermark.style.position = 'fixed';
    watermark.style.top = '40%';
    watermark.style.left = '50%';
    watermark.style.transform = 'translate(-50%, -50%) rotate(-30deg)';
    watermark.style.fontSize = '96px';
    watermark.style.fontWeight = 'bold';
    watermark.style.color = 'rgba(255, 0, 0, 0.25)';
    watermark.style.zIndex = '2147483647';
    watermark.style.pointerEvents = 'none';
    document.body.appendChild(watermark);
})();
`
